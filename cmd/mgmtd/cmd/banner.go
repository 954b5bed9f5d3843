package cmd

import (
	"io"

	"github.com/fatih/color"
)

const banner = `
                        _       _
  _ __ ___   __ _ _ __ | |_ __| |
 | '_ ` + "`" + ` _ \ / _` + "`" + ` | '_ ` + "`" + `| __/ _` + "`" + ` |
 | | | | | | (_| | | | | | || (_| |
 |_| |_| |_|\__, |_| |_| |\__\__,_|
            |___/
`

func printBanner(w io.Writer) {
	color.New(color.FgBlue).Fprint(w, banner)
	color.New(color.FgGreen).Fprintf(w, "  Mail appliance management daemon - Version %s\n\n", Version)
}
