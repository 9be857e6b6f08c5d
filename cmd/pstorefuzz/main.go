package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"os"

	"github.com/kvguard/pstore/fuzzutil"
)

const soakInputSize = 256

func main() {
	seed := flag.String("seed", "", "replay a single corpus file through the crash-interruption harness once")
	soak := flag.Int("soak", 0, "number of randomly generated inputs to run instead of -seed (default 1000)")
	presetsPath := flag.String("presets", "", "TOML file of named geometry presets, see -list-presets")
	listPresets := flag.Bool("list-presets", false, "print the presets from -presets and exit")
	printStats := flag.Bool("stats", false, "print the aggregated Stats table when the run finishes")
	flag.Parse()

	if *listPresets {
		presets, err := LoadPresets(*presetsPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "pstorefuzz:", err)
			os.Exit(1)
		}
		for _, p := range presets {
			fmt.Printf("%s: page_size=%d num_pages=%d max_page_erases=%d\n", p.Name, p.PageSize, p.NumPages, p.MaxPageErases)
		}
		return
	}

	stats := fuzzutil.NewStats()

	if *seed != "" {
		data, err := os.ReadFile(*seed)
		if err != nil {
			fmt.Fprintln(os.Stderr, "pstorefuzz:", err)
			os.Exit(1)
		}
		if err := run(data, stats); err != nil {
			fmt.Fprintln(os.Stderr, "pstorefuzz: invariant violated:", err)
			os.Exit(1)
		}
		fmt.Println("pstorefuzz: replay clean")
		if *printStats {
			fmt.Print(stats.String())
		}
		return
	}

	n := *soak
	if n <= 0 {
		n = 1000
	}
	for i := 0; i < n; i++ {
		data := make([]byte, soakInputSize)
		if _, err := rand.Read(data); err != nil {
			fmt.Fprintln(os.Stderr, "pstorefuzz:", err)
			os.Exit(1)
		}
		if err := run(data, stats); err != nil {
			fmt.Fprintf(os.Stderr, "pstorefuzz: invariant violated after %d runs: %v\ninput: %x\n", i, err, data)
			os.Exit(1)
		}
	}
	fmt.Printf("pstorefuzz: %d runs clean\n", n)
	if *printStats {
		fmt.Print(stats.String())
	}
}
