// Package fs holds utilities for manipulating the file system, trimmed to
// the subset the node's keystore actually uses: creating a permission-
// checked data directory and a user-only-readable secret file inside it.
package fs

import (
	"fmt"
	"os"
)

const defaultDirectoryPermission = 0740
const rwFilePermission = 0600

// CreateSecureFolder checks if the folder exists and has the appropriate permission rights. In case of bad permission rights
// a warning is printed to stderr and the folder is still returned; the empty string is returned only when the existing
// folder cannot be stat'ed. If the folder doesn't exist, it is created (a failure to create it panics).
func CreateSecureFolder(folder string) string {
	if exists, _ := Exists(folder); exists {
		info, err := os.Lstat(folder)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error checking stat folder: ", err)
			return ""
		}

		if perm := int(info.Mode().Perm()); perm != defaultDirectoryPermission {
			fmt.Fprintf(os.Stderr, "Folder different permission: %#o vs %#o \n", perm, defaultDirectoryPermission)
		}
		return folder
	}

	if err := os.MkdirAll(folder, defaultDirectoryPermission); err != nil {
		panic(err)
	}
	return folder
}

// Exists returns whether the given file or directory exists.
func Exists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return true, err
}

// CreateSecureFile creates a file with wr permission for user only and returns
// the file handle.
func CreateSecureFile(file string) (*os.File, error) {
	fd, err := os.Create(file)
	if err != nil {
		return nil, err
	}
	fd.Close()
	if err := os.Chmod(file, rwFilePermission); err != nil {
		return nil, err
	}
	return os.OpenFile(file, os.O_RDWR, rwFilePermission)
}
