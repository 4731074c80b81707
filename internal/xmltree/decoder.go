// Package xmltree decodes loosely structured XML feeds into a generic element
// tree. Callers declare which element paths repeat; everything else with a
// single occurrence decodes as a scalar.
package xmltree

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
)

// ErrParse is returned when the input is not well-formed XML.
var ErrParse = errors.New("parse failed")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ArrayPaths lists dotted element paths, from the document root and without
// namespace prefixes, that always decode as lists.
type ArrayPaths []string

// Match reports whether jpath is declared. A declared path matches when it is
// equal to jpath or is a suffix of it starting at a "." boundary; containment
// anywhere else in jpath does not match.
func (a ArrayPaths) Match(jpath string) bool {
	for _, p := range a {
		if jpath == p || strings.HasSuffix(jpath, "."+p) {
			return true
		}
	}
	return false
}

// DecodeBytes decodes data, ignoring a leading UTF-8 byte order mark.
func DecodeBytes(data []byte, paths ArrayPaths) (*Node, error) {
	return Decode(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)), paths)
}

// Decode reads a complete XML document from r. Malformed input yields an error
// wrapping ErrParse and no tree.
func Decode(r io.Reader, paths ArrayPaths) (*Node, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader

	var (
		root   *Node
		stack  []*Node
		jpaths []string
		texts  []*strings.Builder
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: t.Name.Local}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				if n.Attrs == nil {
					n.Attrs = make(map[string]string, len(t.Attr))
				}
				n.Attrs[a.Name.Local] = a.Value
			}
			jpath := n.Name
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("%w: multiple root elements", ErrParse)
				}
				root = n
			} else {
				jpath = jpaths[len(jpaths)-1] + "." + n.Name
				stack[len(stack)-1].add(n, paths.Match(jpath))
			}
			stack = append(stack, n)
			jpaths = append(jpaths, jpath)
			texts = append(texts, &strings.Builder{})
		case xml.EndElement:
			top := len(stack) - 1
			stack[top].Text = strings.TrimSpace(texts[top].String())
			stack = stack[:top]
			jpaths = jpaths[:top]
			texts = texts[:top]
		case xml.CharData:
			if len(texts) > 0 {
				texts[len(texts)-1].Write(t)
			}
		}
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("%w: unclosed element %s", ErrParse, stack[len(stack)-1].Name)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: no root element", ErrParse)
	}
	return root, nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("charset %q: %w", label, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("charset %q: not supported", label)
	}
	return enc.NewDecoder().Reader(input), nil
}
