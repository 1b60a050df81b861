// Package elfload reads an AVR ELF32-LSB image (EM_AVR = 0x53) and
// populates flash, the RAM data mirror, EEPROM, and the symbol table handed
// to internal/callgraph. A raw binary (no ELF header) is also accepted by
// the caller as a fallback, loaded verbatim into flash from offset zero.
package elfload

import (
	"debug/elf"
	"fmt"
	"sort"
)

const emAVR = 0x53

// Address ranges for PT_LOAD segment classification, per the AVR-GCC
// linker script convention.
const (
	flashLow, flashHigh   = 0x000000, 0x00FFFF
	ramLow, ramHigh       = 0x800000, 0x80FFFF
	eepromLow, eepromHigh = 0x810000, 0x81FFFF
)

// Symbol is a name/address/kind tuple handed to the call-graph module.
type Symbol struct {
	Name     string
	WordAddr uint32
	IsFunc   bool
}

// Image is the materialized result of loading an ELF file.
type Image struct {
	Flash      []byte
	RAMInit    map[uint16]byte
	EEPROM     []byte
	Entry      uint32 // byte address
	CodeStart  int
	CodeEnd    int
	Symbols    []Symbol
}

// symbolPriority ranks naming collisions at the same word address: _exit,
// __init, __bad_interrupt outrank other double-underscore names, which
// outrank everything else.
func symbolPriority(name string) int {
	switch name {
	case "_exit", "__init", "__bad_interrupt":
		return 3
	}
	if len(name) >= 2 && name[0] == '_' && name[1] == '_' {
		return 2
	}
	return 1
}

// Load parses f as an AVR ELF image and materializes it into a flash image
// of at least minFlashSize bytes (rounded by the caller to a power of two).
func Load(f *elf.File, minFlashSize int) (*Image, error) {
	if f.Machine != emAVR && uint16(f.Machine) != emAVR {
		return nil, fmt.Errorf("elfload: not an AVR image (e_machine=%d)", f.Machine)
	}

	img := &Image{
		Flash:   make([]byte, minFlashSize),
		RAMInit: make(map[uint16]byte),
		EEPROM:  make([]byte, 16*1024),
		Entry:   uint32(f.Entry),
	}
	img.CodeEnd = minFlashSize

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return nil, fmt.Errorf("elfload: reading segment: %w", err)
		}
		vaddr := prog.Vaddr

		switch {
		case vaddr <= flashHigh && vaddr+prog.Filesz <= flashHigh+1:
			if int(vaddr)+len(data) > len(img.Flash) {
				grown := make([]byte, int(vaddr)+len(data))
				copy(grown, img.Flash)
				img.Flash = grown
			}
			copy(img.Flash[vaddr:], data)
		case vaddr >= ramLow && vaddr <= ramHigh:
			base := uint16(vaddr - ramLow)
			for i, b := range data {
				img.RAMInit[base+uint16(i)] = b
			}
		case vaddr >= eepromLow && vaddr <= eepromHigh:
			base := int(vaddr - eepromLow)
			if base+len(data) > len(img.EEPROM) {
				grown := make([]byte, base+len(data))
				copy(grown, img.EEPROM)
				img.EEPROM = grown
			}
			copy(img.EEPROM[base:], data)
		default:
			// .fuse / .lock / .signature / .note and anything else above
			// the EEPROM window is deliberately ignored.
		}
	}

	if err := loadSymbols(f, img); err != nil {
		return nil, err
	}
	return img, nil
}

func loadSymbols(f *elf.File, img *Image) error {
	syms, err := f.Symbols()
	if err != nil {
		// A stripped binary has no symtab; that's not fatal, the graph
		// just gets fewer labeled nodes.
		return nil
	}

	best := make(map[uint32]elf.Symbol)
	bestPrio := make(map[uint32]int)
	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		isFunc := elf.ST_TYPE(s.Info) == elf.STT_FUNC
		sectionExec := false
		if int(s.Section) < len(f.Sections) {
			sectionExec = f.Sections[s.Section].Flags&elf.SHF_EXECINSTR != 0
		}
		if !isFunc && !sectionExec {
			continue
		}
		wordAddr := uint32(s.Value / 2)
		prio := symbolPriority(s.Name)
		if cur, ok := bestPrio[wordAddr]; !ok || prio > cur {
			best[wordAddr] = s
			bestPrio[wordAddr] = prio
		}
	}

	addrs := make([]uint32, 0, len(best))
	for a := range best {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	for _, a := range addrs {
		s := best[a]
		img.Symbols = append(img.Symbols, Symbol{
			Name:     s.Name,
			WordAddr: a,
			IsFunc:   elf.ST_TYPE(s.Info) == elf.STT_FUNC,
		})
	}
	return nil
}
