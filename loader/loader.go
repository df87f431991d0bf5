// Package loader reads program images for the simulator: raw little-endian
// word images and text hex listings.
package loader

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/psylab/psycore/emu"
)

// Program is a loaded program image.
type Program struct {
	// Base is the load address of the first word.
	Base uint32

	// Entry is the address execution starts at.
	Entry uint32

	// Words are the program words in load order.
	Words []uint32
}

// LoadInto writes the program image into memory.
func (p *Program) LoadInto(mem *emu.Memory) {
	for i, w := range p.Words {
		mem.Write32(p.Base+uint32(i)*4, w)
	}
}

// Load reads a program image from a file. Files ending in .hex are parsed
// as text listings; everything else is treated as a raw word image.
func Load(path string) (*Program, error) {
	if strings.HasSuffix(path, ".hex") {
		return LoadHex(path)
	}
	return LoadImage(path)
}

// LoadImage reads a raw little-endian 32-bit word image loaded at 0.
func LoadImage(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program image: %w", err)
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("program image %s is %d bytes, not a whole number of words", path, len(data))
	}

	prog := &Program{Words: make([]uint32, len(data)/4)}
	for i := range prog.Words {
		prog.Words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return prog, nil
}

// LoadHex reads a text listing: one 8-digit hex word per line, with blank
// lines and '#' or ';' comments ignored. A leading "@ADDR" line sets the
// load (and entry) address of the words that follow.
func LoadHex(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open program listing: %w", err)
	}
	defer f.Close()

	prog := &Program{}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.IndexAny(line, "#;"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "@") {
			var addr uint32
			if _, err := fmt.Sscanf(line, "@%X", &addr); err != nil {
				return nil, fmt.Errorf("%s:%d: bad address directive %q", path, lineNo, line)
			}
			if len(prog.Words) > 0 {
				return nil, fmt.Errorf("%s:%d: address directive after program words", path, lineNo)
			}
			prog.Base = addr
			prog.Entry = addr
			continue
		}

		var word uint32
		if _, err := fmt.Sscanf(line, "%X", &word); err != nil {
			return nil, fmt.Errorf("%s:%d: bad program word %q", path, lineNo, line)
		}
		prog.Words = append(prog.Words, word)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read program listing: %w", err)
	}

	return prog, nil
}
