// Package dump renders the structure of recognised executable and object
// files: header fields, segment sizes and relocation summaries. The output
// is a plain tree that can be printed, marshalled to YAML or browsed
// interactively.
package dump

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/retrolinker/retrolinker/pkg/linker"
	"github.com/retrolinker/retrolinker/pkg/utils"
)

// Node is one item of the dump tree
type Node struct {
	Title    string  `yaml:"title"`
	Fields   []Field `yaml:"fields,omitempty"`
	Children []*Node `yaml:"children,omitempty"`
}

// Field is a named header value
type Field struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

func (n *Node) addField(name string, format string, args ...any) {
	n.Fields = append(n.Fields, Field{Name: name, Value: fmt.Sprintf(format, args...)})
}

func (n *Node) addChild(title string) *Node {
	child := &Node{Title: title}
	n.Children = append(n.Children, child)
	return child
}

// File analyses an input file and builds its dump tree
func File(path string) (*Node, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	rd := linker.NewReader(linker.UndefinedEndian, file)
	if err := rd.Err(); err != nil {
		return nil, err
	}
	descriptions := linker.DetectFormats(rd)
	if len(descriptions) == 0 {
		return nil, linker.ErrFormatDetect
	}

	root := &Node{Title: path}
	root.addField("file size", "%d bytes", rd.Size())
	for _, description := range descriptions {
		node := root.addChild(description.Description)
		if description.Offset != 0 {
			node.addField("image offset", "%#x", description.Offset)
		}
		switch description.Format {
		case linker.FormatMZ:
			dumpMZ(rd, description.Offset, node)
		case linker.Format68K:
			dump68K(rd, description.Offset, node)
		case linker.FormatO65:
			dumpO65(rd, description.Offset, node)
		}
	}
	return root, nil
}

func dumpMZ(rd *linker.Reader, offset uint64, node *Node) {
	rd.Seek(offset)
	signature := rd.ReadUnsigned(2, linker.LittleEndian)
	lastBlock := rd.ReadUnsigned(2, linker.LittleEndian)
	blocks := rd.ReadUnsigned(2, linker.LittleEndian)
	relocations := rd.ReadUnsigned(2, linker.LittleEndian)
	headerParas := rd.ReadUnsigned(2, linker.LittleEndian)
	minExtra := rd.ReadUnsigned(2, linker.LittleEndian)
	maxExtra := rd.ReadUnsigned(2, linker.LittleEndian)
	ss := rd.ReadUnsigned(2, linker.LittleEndian)
	sp := rd.ReadUnsigned(2, linker.LittleEndian)
	rd.ReadUnsigned(2, linker.LittleEndian) // checksum
	ip := rd.ReadUnsigned(2, linker.LittleEndian)
	cs := rd.ReadUnsigned(2, linker.LittleEndian)
	relocationOffset := rd.ReadUnsigned(2, linker.LittleEndian)
	overlay := rd.ReadUnsigned(2, linker.LittleEndian)

	node.addField("signature", "%c%c", byte(signature), byte(signature>>8))
	node.addField("file size", "%d blocks, %d bytes in last", blocks, lastBlock)
	node.addField("header size", "%d paragraphs", headerParas)
	node.addField("extra memory", "%d to %d paragraphs", minExtra, maxExtra)
	node.addField("cs:ip", "%04x:%04x", cs, ip)
	node.addField("ss:sp", "%04x:%04x", ss, sp)
	node.addField("overlay", "%d", overlay)

	if relocations > 0 {
		table := node.addChild(fmt.Sprintf("%d relocations", relocations))
		rd.Seek(offset + relocationOffset)
		for i := uint64(0); i < relocations; i++ {
			entryOffset := rd.ReadUnsigned(2, linker.LittleEndian)
			entrySegment := rd.ReadUnsigned(2, linker.LittleEndian)
			table.addField(fmt.Sprintf("[%d]", i), "%04x:%04x", entrySegment, entryOffset)
		}
	}
}

func dump68K(rd *linker.Reader, offset uint64, node *Node) {
	rd.Seek(offset)
	magic := rd.ReadUnsigned(2, linker.BigEndian)
	text := rd.ReadUnsigned(4, linker.BigEndian)
	data := rd.ReadUnsigned(4, linker.BigEndian)
	bss := rd.ReadUnsigned(4, linker.BigEndian)
	symbols := rd.ReadUnsigned(4, linker.BigEndian)
	rd.ReadUnsigned(4, linker.BigEndian)
	base := rd.ReadUnsigned(4, linker.BigEndian)
	suppressed := rd.ReadUnsigned(2, linker.BigEndian)

	node.addField("magic", "%#x", magic)
	node.addField("text size", "%#x", text)
	node.addField("data size", "%#x", data)
	node.addField("bss size", "%#x", bss)
	node.addField("symbol table size", "%#x", symbols)
	node.addField("text base", "%#x", base)
	node.addField("relocations", "%s", map[bool]string{true: "suppressed", false: "present"}[suppressed != 0])
}

func dumpO65(rd *linker.Reader, offset uint64, node *Node) {
	rd.Seek(offset + 6)
	mode := rd.ReadUnsigned(2, linker.LittleEndian)
	wordSize := 2
	if mode&0x2000 != 0 {
		wordSize = 4
	}
	node.addField("mode", "%#x", mode)
	for _, name := range []string{"text", "data", "bss", "zero"} {
		segmentBase := rd.ReadUnsigned(wordSize, linker.LittleEndian)
		size := rd.ReadUnsigned(wordSize, linker.LittleEndian)
		node.addField(name, "base %s size %s", utils.FormatUintHex(segmentBase, wordSize*2), utils.FormatUintHex(size, wordSize*2))
	}
	node.addField("stack size", "%#x", rd.ReadUnsigned(wordSize, linker.LittleEndian))
}

var titleColor = color.New(color.FgGreen, color.Bold)

// WriteText prints the tree with indentation, coloring titles when the
// destination is a terminal
func (n *Node) WriteText(w io.Writer) {
	n.writeText(w, 0)
}

func (n *Node) writeText(w io.Writer, depth int) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	fmt.Fprintf(w, "%s%s\n", indent, titleColor.Sprint(n.Title))
	for _, field := range n.Fields {
		fmt.Fprintf(w, "%s  %-20s %s\n", indent, field.Name, field.Value)
	}
	for _, child := range n.Children {
		child.writeText(w, depth+1)
	}
}

// WriteYAML marshals the tree
func (n *Node) WriteYAML(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	return encoder.Encode(n)
}
