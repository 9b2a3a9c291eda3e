package usbid

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Shared USB identity of every uDMX interface. The pair is the V-USB shared
// VID/PID, so a device is only a uDMX once its strings match as well.
const (
	VendorID       uint16 = 0x16C0 // VOTI
	ProductID      uint16 = 0x05DC // obdev shared PID for libusb devices
	ProductIDMIDI  uint16 = 0x05E4 // obdev shared PID for MIDI class devices
	Manufacturer          = "www.anyma.ch"
	Product               = "uDMX"
	ProductMIDI           = "uDMX-midi"
	DefaultSerial         = "100209N0050"
	DefaultSerialM        = "110428N0071"
)

// IsUDMX reports whether the identity belongs to a uDMX interface.
func IsUDMX(vid, pid uint16, manufacturer, product string) bool {
	if vid != VendorID || (pid != ProductID && pid != ProductIDMIDI) {
		return false
	}
	if manufacturer != Manufacturer {
		return false
	}
	return product == Product || product == ProductMIDI
}

// DefaultPaths lists the standard locations for the USB ID database.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// Database caches vendor and product names. It always knows the uDMX
// identities and can be extended from a usb.ids file.
type Database struct {
	vendors  map[uint16]string
	products map[uint32]string
	loaded   bool
	mu       sync.RWMutex
	paths    []string
}

// New creates a database that searches the default paths.
func New() *Database {
	return NewWithPaths(DefaultPaths)
}

// NewWithPaths creates a database that searches the specified paths.
func NewWithPaths(paths []string) *Database {
	db := &Database{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
		paths:    paths,
	}
	db.vendors[VendorID] = "Van Ooijen Technische Informatica"
	db.products[key(VendorID, ProductID)] = "uDMX (shared ID for use with libusb)"
	db.products[key(VendorID, ProductIDMIDI)] = "uDMX-midi (shared ID for MIDI class devices)"
	return db
}

func key(vid, pid uint16) uint32 {
	return uint32(vid)<<16 | uint32(pid)
}

// Load parses the first readable usb.ids file. Subsequent calls do nothing.
// It returns false if no file could be opened; built-in names stay available.
func (db *Database) Load() bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.loaded {
		return true
	}
	db.loaded = true

	for _, path := range db.paths {
		file, err := os.Open(path)
		if err != nil {
			continue
		}
		defer file.Close()
		db.parse(file)
		return true
	}
	return false
}

// Parse merges entries from r in usb.ids format.
func (db *Database) Parse(r io.Reader) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.parse(r)
}

func (db *Database) parse(r io.Reader) {
	scanner := bufio.NewScanner(r)
	var vid uint16
	var inVendor bool

	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		if line[0] == '\t' {
			// Product line; interface lines use two tabs and are skipped.
			if !inVendor || strings.HasPrefix(line, "\t\t") {
				continue
			}
			id, name, ok := splitEntry(line[1:])
			if ok {
				db.products[key(vid, id)] = name
			}
			continue
		}

		// Class sections ("C 09  Hub") end the vendor list.
		id, name, ok := splitEntry(line)
		inVendor = ok
		if ok {
			vid = id
			db.vendors[vid] = name
		}
	}
}

// splitEntry parses "xxxx  Name".
func splitEntry(line string) (uint16, string, bool) {
	if len(line) < 6 || line[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(line[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	return uint16(id), strings.TrimLeft(line[5:], " "), true
}

// LookupVendor returns the vendor name for vid, or "".
func (db *Database) LookupVendor(vid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid]
}

// LookupProduct returns the product name for vid/pid, or "".
func (db *Database) LookupProduct(vid, pid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.products[key(vid, pid)]
}

// IsLoaded reports whether Load has been attempted.
func (db *Database) IsLoaded() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.loaded
}
