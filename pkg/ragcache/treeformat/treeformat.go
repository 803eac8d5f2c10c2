// Package treeformat defines the on-disk shape of a retrieval tree and the
// stable, language-neutral binary encoding used to read and write it.
//
// The original artifacts are pickled Python objects. Rather than keeping a
// Python sidecar around just to unpickle them (spec.md §9's other option),
// trees are re-serialized offline into the format this package reads: a
// small header followed by one length-prefixed gob record per node. No
// example repo in the retrieval pack does pickle interop or ships a custom
// tree format, so this is a from-scratch binary encoder grounded in the
// standard library's own self-describing serializer (encoding/gob) rather
// than a hand-rolled wire format.
package treeformat

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// magic identifies the format so a stray file doesn't get parsed as a tree.
const magic = "IFXTREE1"

// Node is one node of a retrieval tree: a chunk of source text plus the
// layer it lives at in the tree (0 = leaf/raw chunk, increasing toward
// summary layers) and whether it is itself a summary of lower layers.
type Node struct {
	ID        string
	Text      string
	Layer     int
	IsSummary bool
}

// Tree is the in-memory shape of one loaded retrieval tree.
type Tree struct {
	Name  string
	Nodes []Node
}

// Encode writes t to w using the length-prefixed gob record format.
func Encode(w io.Writer, t *Tree) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(magic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := writeLengthPrefixed(bw, []byte(t.Name)); err != nil {
		return fmt.Errorf("write tree name: %w", err)
	}
	if err := binary.Write(bw, binary.BigEndian, uint32(len(t.Nodes))); err != nil {
		return fmt.Errorf("write node count: %w", err)
	}
	for i, n := range t.Nodes {
		buf, err := encodeNode(n)
		if err != nil {
			return fmt.Errorf("encode node %d: %w", i, err)
		}
		if err := writeLengthPrefixed(bw, buf); err != nil {
			return fmt.Errorf("write node %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// Decode reads a Tree previously written by Encode.
func Decode(r io.Reader) (*Tree, error) {
	br := bufio.NewReader(r)

	got := make([]byte, len(magic))
	if _, err := io.ReadFull(br, got); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(got) != magic {
		return nil, fmt.Errorf("not a tree file: bad magic %q", got)
	}

	nameBytes, err := readLengthPrefixed(br)
	if err != nil {
		return nil, fmt.Errorf("read tree name: %w", err)
	}

	var count uint32
	if err := binary.Read(br, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("read node count: %w", err)
	}

	t := &Tree{Name: string(nameBytes), Nodes: make([]Node, 0, count)}
	for i := uint32(0); i < count; i++ {
		buf, err := readLengthPrefixed(br)
		if err != nil {
			return nil, fmt.Errorf("read node %d: %w", i, err)
		}
		n, err := decodeNode(buf)
		if err != nil {
			return nil, fmt.Errorf("decode node %d: %w", i, err)
		}
		t.Nodes = append(t.Nodes, n)
	}
	return t, nil
}

func encodeNode(n Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeNode(b []byte) (Node, error) {
	var n Node
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&n); err != nil {
		return Node{}, err
	}
	return n, nil
}

// perNodeSizeFallback is the ~10 KB-per-node estimate used when a tree
// can't be cheaply re-encoded to measure its size (spec.md §4.J step 4).
const perNodeSizeFallback = 10 * 1024

// EstimateSize approximates a tree's resident memory footprint. It mirrors
// `len(pickle.dumps(tree))` by re-encoding the tree with Encode and taking
// the byte length; if that fails for any reason it falls back to a flat
// per-node estimate so a single malformed tree never blocks eviction math.
func EstimateSize(t *Tree) int64 {
	var counter countingWriter
	if err := Encode(&counter, t); err == nil {
		return counter.n
	}
	return int64(len(t.Nodes)) * perNodeSizeFallback
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

func writeLengthPrefixed(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
