// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// The discimage tool inspects and exercises Bureau disc containers:
// header and fingerprint details, the track table, byte-range reads
// through the chunk contract, and a full precache pass.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/discimage/lib/container"
	"github.com/bureau-foundation/discimage/lib/disc"
	"github.com/bureau-foundation/discimage/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage(os.Stderr)
		return fmt.Errorf("subcommand required")
	}

	switch args[0] {
	case "info":
		return runInfo(args[1:])
	case "toc":
		return runTOC(args[1:])
	case "read":
		return runRead(args[1:])
	case "precache":
		return runPrecache(args[1:])
	case "version", "--version":
		fmt.Printf("discimage %s\n", version.Info())
		return nil
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: discimage <command> [flags] <image.bdisc>

Commands:
  info      show header, fingerprint, and extent details
  toc       list embedded track metadata records
  read      copy a byte range of the logical image to stdout
  precache  load the image (and parent chain) into memory
  version   print version information

Run 'discimage <command> --help' for command flags.
`)
}

// newFlagSet builds a flag set with the shared --verbose flag.
func newFlagSet(name string) (*pflag.FlagSet, *bool) {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	verbose := flags.BoolP("verbose", "v", false, "log open and resolve details to stderr")
	return flags, verbose
}

// openReader opens the single positional image argument with a
// logger derived from --verbose.
func openReader(flags *pflag.FlagSet, verbose bool, extra disc.Config) (*disc.Reader, error) {
	if flags.NArg() != 1 {
		return nil, fmt.Errorf("expected exactly one image path, got %d", flags.NArg())
	}
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	extra.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return disc.OpenWith(flags.Arg(0), extra)
}

func runInfo(args []string) error {
	flags, verbose := newFlagSet("info")
	if err := flags.Parse(args); err != nil {
		return err
	}

	reader, err := openReader(flags, *verbose, disc.Config{})
	if err != nil {
		return err
	}
	defer reader.Close()

	fmt.Printf("path:             %s\n", reader.Path())
	fmt.Printf("hunk size:        %d bytes\n", reader.HunkSize())
	fmt.Printf("unit size:        %d bytes\n", reader.UnitSize())
	fmt.Printf("logical extent:   %d bytes (%d units)\n", reader.ByteLength(), reader.UnitCount())
	fmt.Printf("compressed size:  %d bytes\n", reader.CompressedSize())
	return nil
}

func runTOC(args []string) error {
	flags, verbose := newFlagSet("toc")
	if err := flags.Parse(args); err != nil {
		return err
	}

	reader, err := openReader(flags, *verbose, disc.Config{})
	if err != nil {
		return err
	}
	defer reader.Close()

	count := 0
	for _, tag := range []string{container.TrackMetadata2Tag, container.TrackMetadataTag} {
		for index := 0; ; index++ {
			text, err := reader.Metadata(tag, index)
			if errors.Is(err, container.ErrMetadataNotFound) {
				break
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s[%d]: %s\n", tag, index, text)
			count++
		}
	}
	if count == 0 {
		fmt.Println("no track metadata records")
	}
	return nil
}

func runRead(args []string) error {
	flags, verbose := newFlagSet("read")
	offset := flags.Int64("offset", 0, "byte offset to start reading at")
	length := flags.Int64("length", -1, "bytes to read (-1 = to end of image)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	reader, err := openReader(flags, *verbose, disc.Config{})
	if err != nil {
		return err
	}
	defer reader.Close()

	if *offset < 0 || *offset > reader.ByteLength() {
		return fmt.Errorf("offset %d outside image of %d bytes", *offset, reader.ByteLength())
	}
	remaining := reader.ByteLength() - *offset
	if *length >= 0 && *length < remaining {
		remaining = *length
	}

	section := io.NewSectionReader(reader.ReaderAt(), *offset, remaining)
	if _, err := io.Copy(os.Stdout, section); err != nil {
		return fmt.Errorf("reading image: %w", err)
	}
	return nil
}

func runPrecache(args []string) error {
	flags, verbose := newFlagSet("precache")
	memoryLimit := flags.Int64("memory-limit", 0, "refuse to precache more than this many bytes (0 = available system memory)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	reader, err := openReader(flags, *verbose, disc.Config{PrecacheMemoryLimit: *memoryLimit})
	if err != nil {
		return err
	}
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lastPercent := -1
	err = reader.Precache(ctx, func(done, total int64) {
		percent := int(done * 100 / total)
		if percent != lastPercent {
			fmt.Fprintf(os.Stderr, "\rprecaching: %d%%", percent)
			lastPercent = percent
		}
	})
	fmt.Fprintln(os.Stderr)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "precache cancelled")
		return nil
	}
	return err
}
