//go:build !unix

package persist

import "os"

func lockFile(*os.File) (func(), error) {
	return func() {}, nil
}
