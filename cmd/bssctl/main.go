// Command bssctl drives a blocked sequence set store from the shell:
// create, search, insert, delete, and dump, mirroring the original
// zipcode_bss tool's command set.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/caseyhaas/zipbss"
	"github.com/caseyhaas/zipbss/config"
	"github.com/caseyhaas/zipbss/engine"
)

// defaultConfigPath is where bssctl looks for CLI defaults (block size,
// size format) unless -config names another file; a missing file falls
// back to config.Default.
const defaultConfigPath = "bssctl.yaml"

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  bssctl create <csv_file> <data_file> <index_file> [block_size]")
	fmt.Fprintln(os.Stderr, "  bssctl search <data_file> <index_file> -Z<zipcode>")
	fmt.Fprintln(os.Stderr, "  bssctl insert <data_file> <index_file> <record_file>")
	fmt.Fprintln(os.Stderr, "  bssctl delete <data_file> <index_file> <zipcode_file>")
	fmt.Fprintln(os.Stderr, "  bssctl dump <data_file> <index_file> [physical|logical|index]")
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "bssctl YAML config file carrying CLI defaults")
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "create":
		err = runCreate(*configPath, args[1:])
	case "search":
		err = runSearch(args[1:])
	case "insert":
		err = runInsert(args[1:])
	case "delete":
		err = runDelete(args[1:])
	case "dump":
		err = runDump(args[1:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func runCreate(configPath string, args []string) error {
	if len(args) < 3 {
		usage()
		return zipbss.NewCorruption("create requires <csv_file> <data_file> <index_file> [block_size]")
	}
	csvFile, dataFile, indexFile := args[0], args[1], args[2]

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(args) > 3 {
		blockSize, err := strconv.Atoi(args[3])
		if err != nil {
			return zipbss.NewFormatError("bssctl.create", err)
		}
		cfg.BlockSize = blockSize
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	f, err := os.Open(csvFile)
	if err != nil {
		return zipbss.WrapIO("bssctl.create", err)
	}
	defer f.Close()

	records, err := engine.ReadCSV(f)
	if err != nil {
		return err
	}

	log.Printf("creating %s from %s (block size %d)", dataFile, csvFile, cfg.BlockSize)
	e, err := engine.Initialise(dataFile, indexFile, engine.Options{
		BlockSize:       cfg.BlockSize,
		RecordSizeBytes: cfg.RecordSizeBytes,
		Binary:          cfg.BinaryLength,
	})
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.BulkLoad(records); err != nil {
		return err
	}
	log.Printf("loaded %d records into %d blocks", len(records), e.BlockCount())
	return nil
}

func runSearch(args []string) error {
	if len(args) < 3 {
		usage()
		return zipbss.NewCorruption("search requires <data_file> <index_file> -Z<zipcode>")
	}
	dataFile, indexFile := args[0], args[1]
	zip := ""
	for _, arg := range args[2:] {
		if strings.HasPrefix(arg, "-Z") {
			zip = arg[2:]
		}
	}
	if zip == "" {
		usage()
		return zipbss.NewCorruption("no zip code specified (-Z flag)")
	}

	e, err := engine.Open(dataFile, indexFile, engine.DefaultOptions())
	if err != nil {
		return err
	}
	defer e.Close()

	rec, ok, err := e.Search(zip)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("zip code %s not found\n", zip)
		os.Exit(1)
	}
	fmt.Printf("Zip Code: %s\n", rec.Zip)
	fmt.Printf("City: %s\n", rec.City)
	fmt.Printf("State: %s\n", rec.State)
	fmt.Printf("County: %s\n", rec.County)
	fmt.Printf("Latitude: %f\n", rec.Latitude)
	fmt.Printf("Longitude: %f\n", rec.Longitude)
	return nil
}

func runInsert(args []string) error {
	if len(args) < 3 {
		usage()
		return zipbss.NewCorruption("insert requires <data_file> <index_file> <record_file>")
	}
	dataFile, indexFile, recordFile := args[0], args[1], args[2]

	f, err := os.Open(recordFile)
	if err != nil {
		return zipbss.WrapIO("bssctl.insert", err)
	}
	defer f.Close()

	records, err := engine.ReadCSV(f)
	if err != nil {
		return err
	}

	e, err := engine.Open(dataFile, indexFile, engine.DefaultOptions())
	if err != nil {
		return err
	}
	defer e.Close()

	count := 0
	for _, r := range records {
		if err := e.Insert(r); err != nil {
			log.Printf("failed to insert %s: %v", r.Zip, err)
			continue
		}
		count++
	}
	log.Printf("inserted %d of %d records", count, len(records))
	return nil
}

func runDelete(args []string) error {
	if len(args) < 3 {
		usage()
		return zipbss.NewCorruption("delete requires <data_file> <index_file> <zipcode_file>")
	}
	dataFile, indexFile, zipFile := args[0], args[1], args[2]

	keys, err := readLines(zipFile)
	if err != nil {
		return err
	}

	e, err := engine.Open(dataFile, indexFile, engine.DefaultOptions())
	if err != nil {
		return err
	}
	defer e.Close()

	count := 0
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := e.Remove(key); err != nil {
			log.Printf("failed to delete %s: %v", key, err)
			continue
		}
		count++
	}
	log.Printf("deleted %d of %d records", count, len(keys))
	return nil
}

func runDump(args []string) error {
	if len(args) < 2 {
		usage()
		return zipbss.NewCorruption("dump requires <data_file> <index_file> [physical|logical|index]")
	}
	dataFile, indexFile := args[0], args[1]
	dumpType := "physical"
	if len(args) > 2 {
		dumpType = args[2]
	}

	if dumpType != "physical" && dumpType != "logical" && dumpType != "index" {
		usage()
		return zipbss.NewCorruption("unknown dump type %q", dumpType)
	}

	e, err := engine.Open(dataFile, indexFile, engine.DefaultOptions())
	if err != nil {
		return err
	}
	defer e.Close()

	out, err := os.Create("dump_" + dumpType + ".txt")
	if err != nil {
		return zipbss.WrapIO("bssctl.dump", err)
	}
	defer out.Close()
	w := io.MultiWriter(os.Stdout, out)

	switch dumpType {
	case "physical":
		return e.DumpPhysical(w)
	case "logical":
		return e.DumpLogical(w)
	default:
		return e.DumpIndex(w)
	}
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, zipbss.WrapIO("bssctl.readLines", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, zipbss.WrapIO("bssctl.readLines", err)
	}
	return lines, nil
}
