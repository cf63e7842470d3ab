package fix

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/nguyengg/fixzip"
)

type Command struct {
	DryRun  bool `long:"dry-run" description:"perform a trial run with no changes made"`
	Verify  bool `long:"verify" description:"before writing, verify that the corrected archive parses as a ZIP file"`
	Verbose bool `short:"v" long:"verbose" description:"print the parsed trailer records of each file"`
	Args    struct {
		Files []flags.Filename `positional-arg-name:"ZIP_PATH" description:"the ZIP files to be fixed" required:"yes"`
	} `positional-args:"yes"`
}

// Execute fixes each file in turn.
//
// Outcomes are reported one line per file in input order: successes and no-ops to stdout, failures to stderr. A
// failure never stops the loop so Execute only returns an error for unknown positional arguments.
func (c *Command) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	n := len(c.Args.Files)
	success := 0

	for i, file := range c.Args.Files {
		r, err := c.fix(i+1, n, string(file))
		if err != nil {
			log.Printf(`%d/%d: fix "%s" error: %v; file skipped`, i+1, n, file, err)
			continue
		}

		switch r {
		case fixzip.Corrected:
			fmt.Printf("%d/%d: corrected \"Total Number of Disks\" to 1 in \"%s\"\n", i+1, n, file)
		case fixzip.WouldCorrect:
			fmt.Printf("%d/%d: (dry-run) would correct \"Total Number of Disks\" to 1 in \"%s\"\n", i+1, n, file)
		case fixzip.AlreadyCorrect:
			fmt.Printf("%d/%d: nothing to do: \"Total Number of Disks\" is already 1 in \"%s\"\n", i+1, n, file)
		}

		success++
	}

	log.Printf("successfully processed %d/%d files", success, n)
	return nil
}

func (c *Command) fix(i, n int, name string) (fixzip.Result, error) {
	if c.Verbose {
		if err := c.describe(i, n, name); err != nil {
			return 0, err
		}
	}

	return fixzip.Fix(name, func(opts *fixzip.Options) {
		opts.DryRun = c.DryRun
		opts.Verify = c.Verify
	})
}

// describe prints the trailer records of the named file to stderr.
func (c *Command) describe(i, n int, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("open file error: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat file error: %w", err)
	}

	t, err := fixzip.ReadTrailer(f, fi.Size())
	if err != nil {
		return err
	}

	log.Printf(`%d/%d: "%s" (%s): ZIP64 EOCD at offset %d on disk %d, total disks %d`,
		i, n, name, humanize.Bytes(uint64(fi.Size())), t.Locator.EOCD64Offset, t.Locator.EOCD64DiskNumber, t.Locator.TotalDisks)
	return nil
}
