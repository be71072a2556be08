// Command caskctl is a small operator-facing client for a cask database:
// point reads/writes, key listing, stats, and manual merge.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/caskdb/cask"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "put":
		putCmd()
	case "get":
		getCmd()
	case "delete":
		deleteCmd()
	case "list":
		listCmd()
	case "stats":
		statsCmd()
	case "merge":
		mergeCmd()
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`caskctl - operate a cask key-value store

Usage:
  caskctl <command> [options]

Commands:
  put      Write a key/value pair
  get      Read a key's value
  delete   Remove a key
  list     List all live keys
  stats    Print database statistics
  merge    Run compaction now
  help     Show this help

Examples:
  caskctl put -dir ./data -key user:1 -value alice
  caskctl get -dir ./data -key user:1
  caskctl stats -dir ./data`)
}

func putCmd() {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	dir := fs.String("dir", "./data", "database directory")
	key := fs.String("key", "", "key (required)")
	value := fs.String("value", "", "value")
	sync := fs.Bool("sync", false, "fsync every write")
	fs.Parse(os.Args[2:])

	if *key == "" {
		fmt.Fprintln(os.Stderr, "Error: -key is required")
		os.Exit(1)
	}

	db, err := cask.Open(*dir, cask.WithSyncWrites(*sync))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", *dir, err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Put([]byte(*key), []byte(*value)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to put: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("put %q\n", *key)
}

func getCmd() {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	dir := fs.String("dir", "./data", "database directory")
	key := fs.String("key", "", "key (required)")
	fs.Parse(os.Args[2:])

	if *key == "" {
		fmt.Fprintln(os.Stderr, "Error: -key is required")
		os.Exit(1)
	}

	db, err := cask.Open(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", *dir, err)
		os.Exit(1)
	}
	defer db.Close()

	value, err := db.Get([]byte(*key))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get %q: %v\n", *key, err)
		os.Exit(1)
	}
	fmt.Println(string(value))
}

func deleteCmd() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	dir := fs.String("dir", "./data", "database directory")
	key := fs.String("key", "", "key (required)")
	fs.Parse(os.Args[2:])

	if *key == "" {
		fmt.Fprintln(os.Stderr, "Error: -key is required")
		os.Exit(1)
	}

	db, err := cask.Open(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", *dir, err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Delete([]byte(*key)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to delete %q: %v\n", *key, err)
		os.Exit(1)
	}
	fmt.Printf("deleted %q\n", *key)
}

func listCmd() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dir := fs.String("dir", "./data", "database directory")
	prefix := fs.String("prefix", "", "only list keys with this prefix")
	fs.Parse(os.Args[2:])

	db, err := cask.Open(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", *dir, err)
		os.Exit(1)
	}
	defer db.Close()

	it, err := db.Iterator(cask.IteratorOptions{Prefix: []byte(*prefix)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to iterate: %v\n", err)
		os.Exit(1)
	}
	for it.Rewind(); it.Valid(); it.Next() {
		fmt.Println(string(it.Key()))
	}
}

func statsCmd() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	dir := fs.String("dir", "./data", "database directory")
	fs.Parse(os.Args[2:])

	db, err := cask.Open(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", *dir, err)
		os.Exit(1)
	}
	defer db.Close()

	stats, err := db.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stat: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("keys:              %d\n", stats.KeyNum)
	fmt.Printf("data files:        %d\n", stats.DataFileNum)
	fmt.Printf("reclaimable bytes: %d\n", stats.ReclaimableSize)
	fmt.Printf("disk bytes:        %d\n", stats.DiskSize)
}

func mergeCmd() {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	dir := fs.String("dir", "./data", "database directory")
	fs.Parse(os.Args[2:])

	db, err := cask.Open(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", *dir, err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Merge(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to merge: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("merge complete")
}
