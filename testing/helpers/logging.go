package helpers

import (
	"io"

	"github.com/HORNET-Storage/hornets-relay-core/lib/logging"
)

// DiscardLogger returns a logger that drops everything it is given
func DiscardLogger() *logging.Logger {
	logger, err := logging.New(logging.Options{Level: "debug", Writer: io.Discard})
	if err != nil {
		panic(err)
	}
	return logger
}
