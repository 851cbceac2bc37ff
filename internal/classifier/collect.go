package classifier

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// OutputDirName is the folder conversions are written to, under the input folder.
const OutputDirName = "Converted_HTML"

func skipDir(name string) bool {
	if name == OutputDirName || name == "Archive" {
		return true
	}
	return strings.HasPrefix(name, "Final_Reviewed") || strings.HasPrefix(name, ".")
}

// CollectFiles walks folder and returns supported input files sorted by path.
// Output trees, hidden entries and office lock files are skipped.
func CollectFiles(folder string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != folder && skipDir(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
			return nil
		}
		if Supported(name) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
