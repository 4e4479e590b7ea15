package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/vietanhduong/symbolize-trace/pkg/resolver"
	"github.com/vietanhduong/symbolize-trace/pkg/symbolize"
	"github.com/vietanhduong/symbolize-trace/pkg/trace"
)

func main() {
	var symbolizerPath string
	var demangleType string
	var noBackup bool
	flag.StringVar(&symbolizerPath, "symbolizer-path", "", "Path to an addr2line-compatible symbolizer binary. Looked up on PATH when empty.")
	flag.StringVar(&demangleType, "demangle", string(resolver.DemangleFull), "Demangle mode for resolved names. Should be NONE, SIMPLIFIED, TEMPLATES or FULL.")
	flag.BoolVar(&noBackup, "no-backup", false, "Do not keep a .BACKUP copy of the original trace before rewriting it.")
	flag.Parse()

	if flag.NArg() == 0 {
		glog.Errorf("No trace file is specified")
		os.Exit(1)
	}

	binpath, err := resolver.Locate(symbolizerPath)
	if err != nil {
		glog.Errorf("Failed to locate symbolizer binary: %v", err)
		os.Exit(1)
	}
	glog.Infof("Using symbolizer %s", binpath)
	client := resolver.New(binpath, resolver.DemangleType(demangleType))

	for _, path := range flag.Args() {
		if err := symbolizeTrace(path, client, !noBackup); err != nil {
			glog.Errorf("Failed to symbolize %s: %v", path, err)
			os.Exit(1)
		}
	}
}

func symbolizeTrace(path string, client resolver.Client, backup bool) error {
	tr, err := trace.Load(path)
	if err != nil {
		return err
	}
	mutated, err := symbolize.NewDriver(client).Run(tr)
	if err != nil {
		return err
	}
	if !mutated {
		glog.Infof("%s: no frames changed, leaving the trace untouched", path)
		return nil
	}
	if err := tr.Save(backup); err != nil {
		return err
	}
	glog.Infof("%s: trace rewritten", path)
	return nil
}
