/******************************************************************************
 *
 *  Description :
 *    Package logs exposes a set of leveled loggers: Info, Warn, Err.
 *
 *****************************************************************************/
package logs

import (
	"io"
	"log"
	"os"
	"strings"
)

var (
	// Info is the logger for informational messages.
	Info *log.Logger
	// Warn is the logger for unusual but non-fatal conditions.
	Warn *log.Logger
	// Err is the logger for errors.
	Err *log.Logger
)

func init() {
	Init(os.Stderr, "stdFlags")
}

// Init initializes or reinitializes the loggers with the given output
// and a comma-separated list of log.Logger flag names.
func Init(out io.Writer, flagList string) {
	flags := parseFlags(flagList)
	Info = log.New(out, "I", flags)
	Warn = log.New(out, "W", flags)
	Err = log.New(out, "E", flags)
}

func parseFlags(flagList string) int {
	var flags int
	for _, name := range strings.Split(flagList, ",") {
		switch strings.TrimSpace(name) {
		case "date":
			flags |= log.Ldate
		case "time":
			flags |= log.Ltime
		case "microseconds":
			flags |= log.Lmicroseconds
		case "longfile":
			flags |= log.Llongfile
		case "shortfile":
			flags |= log.Lshortfile
		case "UTC":
			flags |= log.LUTC
		case "stdFlags":
			flags |= log.LstdFlags
		}
	}
	return flags
}
