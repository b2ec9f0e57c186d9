package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	replaceDirFileName = ".replace"
	replaceDirXattr    = "trusted.overlay.opaque"
)

// NodeKind classifies a merged tree entry.
type NodeKind int

const (
	KindRegularFile NodeKind = iota
	KindDirectory
	KindSymlink
	KindWhiteout
)

func (k NodeKind) String() string {
	switch k {
	case KindDirectory:
		return "DIR"
	case KindSymlink:
		return "LINK"
	case KindWhiteout:
		return "WHT"
	default:
		return "FILE"
	}
}

// Node is one path component of the magic-mount merge tree: the result
// of layering module files, directory over directory. When several
// modules provide the same path, the node created by the first module
// merged is kept and later modules only add paths not yet present.
// Replace marks an opaque directory; CollectModuleFiles still merges
// later modules' entries beneath a Replace node.
type Node struct {
	Name       string
	Kind       NodeKind
	Children   map[string]*Node
	ModulePath string // absolute source path on disk, if any
	Replace    bool
	Skip       bool
	Overlayfs  bool
	MagicMount bool
}

// NewRoot creates an empty directory node with the given display name.
func NewRoot(name string) *Node {
	return &Node{Name: name, Kind: KindDirectory, Children: map[string]*Node{}}
}

// CollectModuleFiles merges the contents of moduleDir into n, recursing
// into subdirectories and marking newly-created directory nodes
// Replace when the corresponding module directory opts out of
// per-file merging (trusted.overlay.opaque=="y" xattr, or a ".replace"
// sentinel file). It reports whether any file was found under
// moduleDir, directly or transitively; a Replace directory counts as
// found even when it is empty.
func (n *Node) CollectModuleFiles(moduleDir string) (bool, error) {
	entries, err := os.ReadDir(moduleDir)
	if err != nil {
		return false, err
	}

	hasFile := false
	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(moduleDir, name)

		child, ok := n.Children[name]
		if !ok {
			child, err = newModuleNode(name, path)
			if err != nil || child == nil {
				continue
			}
			n.Children[name] = child
		}

		if child.Kind == KindDirectory {
			found, err := child.CollectModuleFiles(filepath.Join(moduleDir, name))
			if err != nil {
				continue
			}
			hasFile = hasFile || found || child.Replace
		} else {
			hasFile = true
		}
	}

	return hasFile, nil
}

// newModuleNode classifies one module directory entry, identifying
// overlayfs whiteouts (character devices with rdev 0) and opaque
// replace directories.
func newModuleNode(name, path string) (*Node, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}

	kind := classify(info)

	node := &Node{
		Name:       name,
		Kind:       kind,
		Children:   map[string]*Node{},
		ModulePath: path,
		Overlayfs:  exists(filepath.Join(path, ".overlayfs")),
		MagicMount: exists(filepath.Join(path, ".magic_mount")),
	}
	if kind == KindDirectory {
		node.Replace = dirIsReplace(path)
	}
	return node, nil
}

func classify(info os.FileInfo) NodeKind {
	if info.Mode()&os.ModeCharDevice != 0 {
		if stat, ok := info.Sys().(*syscall.Stat_t); ok && stat.Rdev == 0 {
			return KindWhiteout
		}
	}
	switch {
	case info.Mode().IsDir():
		return KindDirectory
	case info.Mode()&os.ModeSymlink != 0:
		return KindSymlink
	default:
		return KindRegularFile
	}
}

func dirIsReplace(path string) bool {
	buf := make([]byte, 8)
	if n, err := unix.Lgetxattr(path, replaceDirXattr, buf); err == nil && string(buf[:n]) == "y" {
		return true
	}
	return exists(filepath.Join(path, replaceDirFileName))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ReparentPartitions moves the conventional partition subdirectories
// (vendor, system_ext, product, odm, and any extra partitions) from
// under the "system" child to the tree root, matching the host's own
// partition layout: vendor/system_ext/product require a /system/<name>
// symlink to already exist (meaning the partition is logically nested
// under /system on this device), while odm and any caller-supplied
// extra partition do not.
func ReparentPartitions(root, system *Node, extraPartitions []string) {
	rules := []partitionRule{
		{"vendor", true},
		{"system_ext", true},
		{"product", true},
		{"odm", false},
	}
	for _, p := range extraPartitions {
		if p == "system" {
			continue
		}
		if containsPartition(rules, p) {
			continue
		}
		rules = append(rules, partitionRule{p, false})
	}

	for _, rule := range rules {
		rootPath := filepath.Join("/", rule.name)
		systemPath := filepath.Join("/system", rule.name)

		rootIsDir := isDirPath(rootPath)
		symlinkOK := !rule.requireSymlink || isSymlink(systemPath)
		if !rootIsDir || !symlinkOK {
			continue
		}

		if node, ok := system.Children[rule.name]; ok {
			delete(system.Children, rule.name)
			root.Children[rule.name] = node
		}
	}
}

type partitionRule struct {
	name           string
	requireSymlink bool
}

func containsPartition(rules []partitionRule, name string) bool {
	for _, r := range rules {
		if r.name == name {
			return true
		}
	}
	return false
}

func isDirPath(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// Sprint renders the tree as an indented, connector-drawn listing, in
// the style of `tree(1)`, sorting each level's children lexicographically.
func (n *Node) Sprint() string {
	var b strings.Builder
	printTree(&b, n, "", true, true)
	return b.String()
}

func printTree(b *strings.Builder, n *Node, prefix string, isLast, isRoot bool) {
	connector := "├── "
	switch {
	case isRoot:
		connector = ""
	case isLast:
		connector = "└── "
	}

	name := n.Name
	if name == "" {
		name = "/"
	}

	var flags []string
	if n.Replace {
		flags = append(flags, "REPLACE")
	}
	if n.Skip {
		flags = append(flags, "SKIP")
	}
	if n.MagicMount {
		flags = append(flags, "MAGIC_MOUNT")
	}
	if n.Overlayfs {
		flags = append(flags, "OVERLAYFS")
	}
	flagStr := ""
	if len(flags) > 0 {
		flagStr = " [" + strings.Join(flags, "|") + "]"
	}

	sourceStr := ""
	if n.ModulePath != "" {
		sourceStr = " -> " + n.ModulePath
	}

	fmt.Fprintf(b, "%s%s%s [%s]%s%s\n", prefix, connector, name, n.Kind, flagStr, sourceStr)

	childPrefix := "│   "
	switch {
	case isRoot:
		childPrefix = ""
	case isLast:
		childPrefix = "    "
	}
	newPrefix := prefix + childPrefix

	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		printTree(b, n.Children[name], newPrefix, i == len(names)-1, false)
	}
}
