// Command ifu-report post-processes integral-field spectrograph exposures:
// it removes residual sky structure from each detector cube and measures
// reference-star positions across dithered exposures, emitting the shift
// and manifest files the exposure-combination step consumes.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/ifu.report/internal/version"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: ifu-report <command> [flags]

commands:
  skycorr   estimate and subtract sky-residual spectra for each exposure
  offsets   fit reference stars and resolve dither shifts
  run       skycorr followed by offsets
  runs      list persisted offset runs
  version   print build information

run "ifu-report <command> -h" for the command's flags.
`)
	os.Exit(2)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("ifu-report ")

	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "skycorr":
		err = runSkyCorr(os.Args[2:])
	case "offsets":
		err = runOffsets(os.Args[2:])
	case "run":
		err = runAll(os.Args[2:])
	case "runs":
		err = runListRuns(os.Args[2:])
	case "version":
		fmt.Printf("ifu-report %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}
