package mocker

import (
	"bytes"
	"io"
	"os"
)

// Creates pipe-backed file that collects everything written into it
func CreateStream() (*os.File, chan string) {
	r, outStream, _ := os.Pipe()

	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()

	return outStream, outC
}

// Closes the stream and returns collected output
func ReadStream(outStream *os.File, outC chan string) string {
	outStream.Close()

	output := <-outC
	return output
}
