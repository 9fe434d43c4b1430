package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/PatchLens/js-call-lens/lens"
)

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC)

	reportJsonFile := flag.String("json", "callreport.json", "File containing a previously written rewrite report")
	reportChartsFile := flag.String("charts", "callreport.png", "File to output rewrite overview chart image")
	manifestFile := flag.String("manifest", "", "Optional manifest file to summarize")
	flag.Parse()

	data, err := os.ReadFile(*reportJsonFile)
	if err != nil {
		log.Fatalf("%sFailed to read report: %v", lens.ErrorLogPrefix, err)
	}
	var metrics lens.ReportMetrics
	if err := json.Unmarshal(data, &metrics); err != nil {
		log.Fatalf("%sFailed to unmarshal report: %v", lens.ErrorLogPrefix, err)
	}

	charts, err := lens.RenderReportChartsFromJson(metrics)
	if err != nil {
		log.Fatalf("%sFailed to render charts: %v", lens.ErrorLogPrefix, err)
	}
	if err = os.WriteFile(*reportChartsFile, charts, 0644); err != nil {
		log.Fatalf("%sFailed to write chart file: %v", lens.ErrorLogPrefix, err)
	}
	log.Println("Report file wrote: " + *reportChartsFile)

	if *manifestFile != "" {
		manifest, err := lens.ReadManifest(*manifestFile)
		if err != nil {
			log.Fatalf("%sFailed to read manifest: %v", lens.ErrorLogPrefix, err)
		}
		log.Printf("Manifest files: %d, call sites: %d", len(manifest.Files), manifest.CallSiteCount())
	}
}
