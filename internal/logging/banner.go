package logging

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/mdp/qrterminal/v3"
)

// ANSI color codes.
const (
	reset = "\033[0m"
	bold  = "\033[1m"
	cyan  = "\033[36m"
	dim   = "\033[2m"
)

// logoLines is the bridged ASCII art logo.
var logoLines = [6]string{
	`  _          _     _              _ `,
	` | |__  _ __(_) __| | __ _  ___  __| |`,
	` | '_ \| '__| |/ _` + "`" + ` |/ _` + "`" + ` |/ _ \/ _` + "`" + ` |`,
	` | |_) | |  | | (_| | (_| |  __/ (_| |`,
	` |_.__/|_|  |_|\__,_|\__, |\___|\__,_|`,
	`                      |___/            `,
}

// PrintBanner prints the bridged ASCII art logo, version, and listen
// address to stderr. Colors are used only when stderr is a TTY.
func PrintBanner(ver, addr string) {
	color := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	for _, line := range logoLines {
		if color {
			fmt.Fprintf(os.Stderr, "%s%s%s\n", bold+cyan, line, reset)
		} else {
			fmt.Fprintln(os.Stderr, line)
		}
	}

	if color {
		fmt.Fprintf(os.Stderr, "\n  %sversion%s %s   %saddr%s %s\n\n",
			dim, reset, ver, dim, reset, addr)
	} else {
		fmt.Fprintf(os.Stderr, "\n  version %s   addr %s\n\n", ver, addr)
	}
}

// addrToURL converts a listen address (e.g. ":4328", "0.0.0.0:4328") into
// an http://localhost:<port> base URL.
func addrToURL(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		port = strings.TrimPrefix(addr, ":")
	}
	if port == "" || port == "80" {
		return "http://localhost"
	}
	return "http://localhost:" + port
}

// PrintPairingQR renders a QR code (TTY only) plus the underlying URL so
// a companion client can scan and connect straight to /rpc with the
// bearer token pre-filled as a query parameter. Only meaningful when the
// daemon was started with -dev-allow-query-token; callers must not call
// this otherwise, since the token has no business appearing in a URL.
func PrintPairingQR(addr, token string) {
	url := addrToURL(addr) + "/rpc?token=" + token
	isTTY := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	if isTTY {
		fmt.Fprintf(os.Stderr, "  %s%s➜%s  %s%s%s\n\n", bold, cyan, reset, bold, url, reset)
		qrterminal.GenerateWithConfig(url, qrterminal.Config{
			Level:          qrterminal.L,
			Writer:         os.Stderr,
			QuietZone:      1,
			HalfBlocks:     true,
			BlackChar:      qrterminal.BLACK_BLACK,
			WhiteChar:      qrterminal.WHITE_WHITE,
			BlackWhiteChar: qrterminal.BLACK_WHITE,
			WhiteBlackChar: qrterminal.WHITE_BLACK,
		})
		fmt.Fprintln(os.Stderr)
	} else {
		fmt.Fprintf(os.Stderr, "  ➜  %s\n\n", url)
	}
}
