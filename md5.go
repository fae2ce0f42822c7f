package neodb

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
)

// MD5Hash identifies a single beatmap difficulty by the digest of its file
// contents. The raw digest is the canonical in-memory form; the hex-text form
// only appears in older database versions and is converted on read.
type MD5Hash [16]byte

func (h MD5Hash) String() string { return hex.EncodeToString(h[:]) }

// IsSuspicious reports whether the hash is the zero digest, which only
// happens when an entry was written with a missing or corrupt hash. Such
// hashes must never be persisted as override keys.
func (h MD5Hash) IsSuspicious() bool { return h == MD5Hash{} }

// HashFromString converts the 32-character hex-text form. Malformed input
// yields the zero digest.
func HashFromString(s string) MD5Hash {
	var h MD5Hash
	if len(s) != 32 {
		return h
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return MD5Hash{}
	}
	copy(h[:], raw)
	return h
}

// HashFile computes the content hash of the file at path.
func HashFile(path string) (MD5Hash, error) {
	var h MD5Hash
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	sum := md5.New()
	if _, err := io.Copy(sum, f); err != nil {
		return h, err
	}
	copy(h[:], sum.Sum(nil))
	return h, nil
}

// recalcMD5 recomputes a difficulty hash straight from its .osu file. Used
// when an entry was stored with an empty or corrupt hash; returns the zero
// digest when the file is gone.
func (d *Database) recalcMD5(osuPath string) MD5Hash {
	h, err := HashFile(osuPath)
	if err != nil {
		d.log.Debugw("skipped entry with no recoverable hash", "path", osuPath, "error", err)
		return MD5Hash{}
	}
	d.log.Debugw("manually recalculated hash", "path", osuPath, "hash", h)
	return h
}
