package phototag

import (
	"encoding/xml"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/otiai10/copy"
	"k8s.io/klog/v2"
)

var (
	subjectRe = regexp.MustCompile(`(?s)<dc:subject>\s*<rdf:Bag>(.*?)</rdf:Bag>\s*</dc:subject>`)
	liRe      = regexp.MustCompile(`(?s)<rdf:li>(.*?)</rdf:li>`)
)

const (
	creatorEnd     = "</dc:creator>"
	descriptionEnd = "</rdf:Description>"
	emptySubject   = "<dc:subject>\n    <rdf:Bag>\n    </rdf:Bag>\n   </dc:subject>"
)

// rename is swapped out in tests to simulate a crash at the last step.
var rename = os.Rename

// SidecarLabels returns the entries of the dc:subject bag in an XMP document.
func SidecarLabels(doc string) []string {
	m := subjectRe.FindStringSubmatch(doc)
	if m == nil {
		return nil
	}
	var labels []string
	for _, li := range liRe.FindAllStringSubmatch(m[1], -1) {
		labels = append(labels, html.UnescapeString(li[1]))
	}
	return labels
}

// MergeSidecarText appends labels to the dc:subject bag of an XMP document.
// Only the inserted entries differ from doc; if the document has no subject
// yet, an empty one is added first.
func MergeSidecarText(doc string, labels []string) (string, error) {
	loc := subjectRe.FindStringSubmatchIndex(doc)
	if loc == nil {
		var err error
		doc, err = addSubject(doc)
		if err != nil {
			return "", err
		}
		loc = subjectRe.FindStringSubmatchIndex(doc)
		if loc == nil {
			return "", fmt.Errorf("unable to find dc:subject after adding it")
		}
	}
	bagStart, bagEnd := loc[2], loc[3]

	pos := bagStart
	indent := ""
	newline := false

	if lis := liRe.FindAllStringIndex(doc[bagStart:bagEnd], -1); len(lis) > 0 {
		last := lis[len(lis)-1]
		pos = bagStart + last[1]
		indent = lineIndent(doc, bagStart+last[0])
	} else {
		indent = lineIndent(doc, bagStart-len("<rdf:Bag>"))
		if indent != "" || strings.HasPrefix(doc[bagStart:], "\n") {
			indent += " "
		}
	}
	if strings.HasPrefix(doc[pos:], "\n") {
		pos++
		newline = true
	}

	var b strings.Builder
	for _, l := range labels {
		if newline {
			b.WriteString(indent)
		}
		b.WriteString("<rdf:li>")
		if err := xml.EscapeText(&b, []byte(l)); err != nil {
			return "", fmt.Errorf("escape %q: %w", l, err)
		}
		b.WriteString("</rdf:li>")
		if newline {
			b.WriteString("\n")
		}
	}
	return doc[:pos] + b.String() + doc[pos:], nil
}

// addSubject inserts an empty dc:subject bag after dc:creator, or at the end
// of the rdf:Description when there is no creator.
func addSubject(doc string) (string, error) {
	if i := strings.Index(doc, creatorEnd); i >= 0 {
		i += len(creatorEnd)
		return doc[:i] + "\n   " + emptySubject + doc[i:], nil
	}

	if i := strings.Index(doc, descriptionEnd); i >= 0 {
		start := strings.LastIndex(doc[:i], "\n") + 1
		if strings.TrimSpace(doc[start:i]) != "" {
			start = i
		}
		return doc[:start] + "   " + emptySubject + "\n" + doc[start:], nil
	}

	return "", fmt.Errorf("no %s or %s to anchor dc:subject to", creatorEnd, descriptionEnd)
}

// lineIndent returns the whitespace between the start of the line and i, or
// "" if something else precedes i on that line.
func lineIndent(doc string, i int) string {
	start := strings.LastIndex(doc[:i], "\n") + 1
	ws := doc[start:i]
	if strings.TrimLeft(ws, " \t") != "" {
		return ""
	}
	return ws
}

// MergeSidecar appends labels to the XMP sidecar at path and commits the
// result atomically.
func MergeSidecar(path string, labels []string) error {
	bs, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	doc, err := MergeSidecarText(string(bs), labels)
	if err != nil {
		return fmt.Errorf("merge %s: %w", path, err)
	}
	return WriteAtomic(path, []byte(doc))
}

// WriteAtomic replaces path with data. Readers of path see either the old or
// the new content, never a partial file, and the old mode and modification
// time carry over.
func WriteAtomic(path string, data []byte) error {
	staged, err := stage(path, data)
	if err != nil {
		return err
	}
	if err := swap(path, staged); err != nil {
		_ = os.Remove(staged)
		return err
	}
	return nil
}

// stage writes data to a new hidden file beside path.
func stage(path string, data []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".new-*")
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	name := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close: %w", err)
	}
	return name, nil
}

// swap moves staged over path, keeping a copy of the original aside until
// its file metadata has been carried over.
func swap(path string, staged string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	aside := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".orig")
	if err := os.Remove(aside); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale %s: %w", aside, err)
	}
	if err := os.Link(path, aside); err != nil {
		klog.V(1).Infof("link %s: %v, copying instead", path, err)
		if err := copy.Copy(path, aside, copy.Options{PreserveTimes: true}); err != nil {
			return fmt.Errorf("set aside: %w", err)
		}
	}

	if err := rename(staged, path); err != nil {
		_ = os.Remove(aside)
		return fmt.Errorf("rename: %w", err)
	}

	if err := os.Chmod(path, fi.Mode().Perm()); err != nil {
		klog.Warningf("chmod %s: %v", path, err)
	}
	if err := os.Chtimes(path, fi.ModTime(), fi.ModTime()); err != nil {
		klog.Warningf("chtimes %s: %v", path, err)
	}

	if err := os.Remove(aside); err != nil {
		return fmt.Errorf("remove %s: %w", aside, err)
	}
	return nil
}
