package registry

import (
	"os"
	"path/filepath"
)

// StoreUsage returns the on-disk size of each named store and their total.
// A store may be a file or a directory; missing stores report 0.
func StoreUsage(stores map[string]string) (map[string]int64, int64, error) {
	sizes := make(map[string]int64, len(stores))
	var total int64
	for name, p := range stores {
		if p == "" {
			continue
		}
		n, err := pathSize(p)
		if err != nil {
			return nil, 0, err
		}
		// SQLite keeps recent writes in the WAL until checkpoint.
		for _, side := range []string{p + "-wal", p + "-shm"} {
			if m, err := pathSize(side); err == nil {
				n += m
			}
		}
		sizes[name] = n
		total += n
	}
	return sizes, total, nil
}

func pathSize(p string) (int64, error) {
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
