package neodb

import (
	"github.com/neomodnet/neodb/bytebuf"
	"github.com/samber/lo"
)

// CollectionsDBVersion tags the native collections file.
const CollectionsDBVersion uint32 = 20240725

// Collection is a named list of difficulty hashes. Both the native and the
// legacy client share the same simple layout: a version, a count, then
// name + hex-text hash list per collection.
type Collection struct {
	Name   string
	Hashes []MD5Hash
}

// loadCollections reads the native collections file and then the legacy one,
// merging by name.
func (d *Database) loadCollections() {
	d.loadCollectionFile(d.databaseFiles[KindCollections], false)
	if d.cfg.LegacyDatabaseEnabled {
		d.loadCollectionFile(d.databaseFiles[KindLegacyCollections], true)
	}
}

// loadCollectionFile merges one collection database into the in-memory list.
// Unknown hashes are kept; they may resolve after future imports.
func (d *Database) loadCollectionFile(path string, legacy bool) bool {
	r := bytebuf.NewReader(path)
	defer func() { d.bytesProcessed += uint64(r.TotalSize()) }()
	if r.TotalSize() == 0 {
		return false
	}

	version := r.ReadU32()
	numCollections := r.ReadU32()
	if !r.Good() || version == 0 {
		return false
	}

	merged := 0
	d.collectionsMtx.Lock()
	defer d.collectionsMtx.Unlock()

	for i := uint32(0); i < numCollections && r.Good(); i++ {
		name := r.ReadString()
		numHashes := r.ReadU32()

		hashes := make([]MD5Hash, 0, numHashes)
		for j := uint32(0); j < numHashes && r.Good(); j++ {
			h := r.ReadHashChars()
			if !MD5Hash(h).IsSuspicious() {
				hashes = append(hashes, MD5Hash(h))
			}
		}
		if !r.Good() {
			break
		}

		idx := -1
		for ci := range d.collections {
			if d.collections[ci].Name == name {
				idx = ci
				break
			}
		}
		if idx == -1 {
			d.collections = append(d.collections, Collection{Name: name, Hashes: hashes})
		} else {
			d.collections[idx].Hashes = lo.Uniq(append(d.collections[idx].Hashes, hashes...))
		}
		merged++
	}

	d.log.Infow("loaded collections", "path", path, "count", merged, "legacy", legacy)
	return merged > 0
}

// Collections returns a snapshot of the loaded collections.
func (d *Database) Collections() []Collection {
	d.collectionsMtx.Lock()
	defer d.collectionsMtx.Unlock()
	out := make([]Collection, len(d.collections))
	copy(out, d.collections)
	return out
}

// AddToCollection appends a hash to a named collection, creating it on
// first use.
func (d *Database) AddToCollection(name string, hash MD5Hash) {
	if hash.IsSuspicious() {
		return
	}
	d.collectionsMtx.Lock()
	defer d.collectionsMtx.Unlock()

	for ci := range d.collections {
		if d.collections[ci].Name != name {
			continue
		}
		if !lo.Contains(d.collections[ci].Hashes, hash) {
			d.collections[ci].Hashes = append(d.collections[ci].Hashes, hash)
		}
		return
	}
	d.collections = append(d.collections, Collection{Name: name, Hashes: []MD5Hash{hash}})
}

// saveCollections writes the native collections file.
func (d *Database) saveCollections() {
	if d.IsLoading() || d.IsCancelled() {
		return
	}

	d.collectionsMtx.Lock()
	w := bytebuf.NewWriter()
	w.WriteU32(CollectionsDBVersion)
	w.WriteU32(uint32(len(d.collections)))
	for _, c := range d.collections {
		w.WriteString(c.Name)
		w.WriteU32(uint32(len(c.Hashes)))
		for _, h := range c.Hashes {
			w.WriteHashChars(h)
		}
	}
	numCollections := len(d.collections)
	d.collectionsMtx.Unlock()

	path := d.cfg.PathFor(KindCollections)
	d.writeDatabaseFile(path, w.Bytes(), func(ok bool) {
		if ok {
			d.log.Infow("saved collections", "count", numCollections, "path", path)
		}
	})
}
