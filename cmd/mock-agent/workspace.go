package main

import (
	"bufio"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Tool sequences reference real files from the working directory so transcripts
// look plausible in demos. Discovery runs once; an empty workspace falls back
// to a fixed path.

type workspaceFile struct {
	absPath string
	relPath string
}

var (
	filesOnce  sync.Once
	filesCache []workspaceFile
)

var textExtensions = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".py": true,
	".rs": true, ".c": true, ".h": true, ".json": true, ".yaml": true,
	".yml": true, ".toml": true, ".md": true, ".txt": true, ".sh": true,
	".sql": true, ".proto": true,
}

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "dist": true,
	"build": true, "bin": true, "__pycache__": true, ".cache": true,
}

const maxWorkspaceFiles = 200

func workspaceFiles() []workspaceFile {
	filesOnce.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			return
		}
		_ = filepath.WalkDir(wd, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if skipDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if len(filesCache) >= maxWorkspaceFiles {
				return filepath.SkipAll
			}
			if !textExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
				return nil
			}
			if info, err := d.Info(); err != nil || info.Size() > 100*1024 {
				return nil
			}
			rel, _ := filepath.Rel(wd, path)
			filesCache = append(filesCache, workspaceFile{absPath: path, relPath: rel})
			return nil
		})
	})
	return filesCache
}

func randomFile() workspaceFile {
	files := workspaceFiles()
	if len(files) == 0 {
		return workspaceFile{absPath: "/workspace/example.txt", relPath: "example.txt"}
	}
	return files[rand.Intn(len(files))]
}

// randomFilePaths returns up to n distinct relative paths for search results.
func randomFilePaths(n int) []string {
	files := workspaceFiles()
	if len(files) == 0 {
		return []string{"example.txt"}
	}
	if n > len(files) {
		n = len(files)
	}
	perm := rand.Perm(len(files))
	paths := make([]string, n)
	for i := range paths {
		paths[i] = files[perm[i]].relPath
	}
	return paths
}

// readFileSnippet reads up to maxLines lines from a file.
func readFileSnippet(path string, maxLines int) string {
	f, err := os.Open(path)
	if err != nil {
		return "// (file not readable)\n"
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() && len(lines) < maxLines {
		lines = append(lines, scanner.Text())
	}
	return strings.Join(lines, "\n") + "\n"
}

// pickEditableFragment selects a line from the file and produces a modified
// copy of it, giving Edit sequences a plausible old/new string pair.
func pickEditableFragment(path string) (oldStr, newStr string) {
	f, err := os.Open(path)
	if err != nil {
		return "original", "modified"
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	var candidates []string
	for scanner.Scan() {
		line := scanner.Text()
		if trimmed := strings.TrimSpace(line); len(trimmed) >= 10 && len(trimmed) <= 120 {
			candidates = append(candidates, line)
		}
	}
	if len(candidates) == 0 {
		return "original", "modified"
	}

	line := candidates[rand.Intn(len(candidates))]
	words := strings.Fields(line)
	for i, w := range words {
		if len(w) > 2 {
			modified := make([]string, len(words))
			copy(modified, words)
			modified[i] = w + "_mock"
			return line, strings.Join(modified, " ")
		}
	}
	return line, line + " // mock-edited"
}
