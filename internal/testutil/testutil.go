package testutil

import "os"

// WriteStringToTempFile writes content to a temp file and returns the file
// path and a cleanup function.
func WriteStringToTempFile(content string) (string, func(), error) {
	tempFile, err := os.CreateTemp("", "sshmcp-test-*")
	if err != nil {
		return "", nil, err
	}

	if _, err := tempFile.WriteString(content); err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return "", nil, err
	}

	tempFile.Close()

	cleanup := func() {
		os.Remove(tempFile.Name())
	}

	return tempFile.Name(), cleanup, nil
}
