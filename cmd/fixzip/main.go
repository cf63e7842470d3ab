package main

import (
	"github.com/jessevdk/go-flags"
	"github.com/nguyengg/fixzip/internal/fix"
)

func main() {
	cmd := &fix.Command{}

	p := flags.NewParser(cmd, flags.Default)
	p.ShortDescription = `fix the ZIP64 "Total Number of Disks" field`
	p.LongDescription = `Fix OneDrive/Windows ZIP files larger than 4GiB that have an invalid "Total Number of Disks" field in the ZIP64 End of Central Directory Locator. The value in this field should be 1, but OneDrive/Windows sets it to 0, which makes it difficult to work with these files using standard unzip utilities.`

	_, err := p.Parse()
	if err == nil {
		err = cmd.Execute(nil)
	}

	exit(err)
}
