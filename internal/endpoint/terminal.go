package endpoint

import (
	"io"

	"github.com/mdp/qrterminal/v3"
)

// Use ascii blocks to form the QR Code
const (
	blackWhite = "▄"
	blackBlack = " "
	whiteBlack = "▀"
	whiteWhite = "█"
)

// PrintTerminal draws a QR code for url on w using half-block characters,
// so it stays small enough to scan straight off a terminal.
func PrintTerminal(w io.Writer, url string) {
	qrterminal.GenerateWithConfig(url, qrterminal.Config{
		Level:          qrterminal.M,
		Writer:         w,
		HalfBlocks:     true,
		BlackChar:      blackBlack,
		WhiteBlackChar: whiteBlack,
		WhiteChar:      whiteWhite,
		BlackWhiteChar: blackWhite,
		QuietZone:      1,
	})
}
