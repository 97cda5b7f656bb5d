package fileops

import (
	"fmt"
	"strings"
)

const hexDigits = "0123456789abcdef"

// pyQuote renders s as a double-quoted Python string literal. Quotes,
// backslashes and control characters are escaped so a path can never end
// the literal early.
func pyQuote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		case c < 0x20 || c == 0x7f:
			b.WriteString(`\x`)
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func existsSnippet(path string) string {
	return fmt.Sprintf("try:\n  f=open(%s,'r')\n  f.close()\n  print(1)\nexcept OSError:\n  print(0)\n", pyQuote(path))
}

func listdirArg(dir string) string {
	if dir == "" {
		return ""
	}
	return pyQuote(dir)
}

func listSnippet(dir string) string {
	return fmt.Sprintf("import uos\ntry:\n  print(uos.listdir(%s))\nexcept OSError:\n  print([])\n", listdirArg(dir))
}

func listDetailedSnippet(dir string) string {
	return fmt.Sprintf("import uos\ntry:\n  l=[list(e) for e in uos.ilistdir(%s)]\nexcept OSError:\n  l=[]\nprint(l)\ndel l\n", listdirArg(dir))
}

func readTextSnippet(path string, chunk int) string {
	return fmt.Sprintf("with open(%s,'r') as f:\n while 1:\n  b=f.read(%d)\n  if not b:break\n  print(b,end='')\ndel f\ndel b\n", pyQuote(path), chunk)
}

func readBinarySnippet(path string, chunk int) string {
	return fmt.Sprintf("with open(%s,'rb') as f:\n while 1:\n  b=f.read(%d)\n  if not b:break\n  print(\",\".join(str(e) for e in b),end=',')\ndel f\ndel b\n", pyQuote(path), chunk)
}

func openWriteSnippet(path string) string {
	return fmt.Sprintf("f=open(%s,'wb')\nw=f.write", pyQuote(path))
}

const closeWriteSnippet = "f.close()\ndel f\ndel w\n"

// writeChunkSnippet encodes data as a byte-list expression so arbitrary
// bytes survive the text channel.
func writeChunkSnippet(data []byte) string {
	var b strings.Builder
	b.Grow(len("w(bytes([]))") + len(data)*5)
	b.WriteString("w(bytes([")
	for i, c := range data {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString("0x")
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	b.WriteString("]))")
	return b.String()
}

func removeSnippet(fn, path string) string {
	return fmt.Sprintf("import uos\ntry:\n  uos.%s(%s)\n  print(1)\nexcept OSError:\n  print(0)\n", fn, pyQuote(path))
}

func mkdirSnippet(path string) string {
	return fmt.Sprintf("import uos\nuos.mkdir(%s)", pyQuote(path))
}

func renameSnippet(from, to string) string {
	return fmt.Sprintf("import uos\nuos.rename(%s,%s)", pyQuote(from), pyQuote(to))
}
