package podle

import (
	"encoding/hex"
	"os"
	"syscall"
)

// acquireFileLock takes an advisory exclusive lock on path, creating it
// if necessary, so that RecordUsed is serialized across process
// instances sharing the same commitments file. The returned func
// releases it.
func acquireFileLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func hexString(b []byte) string {
	return hex.EncodeToString(b)
}
