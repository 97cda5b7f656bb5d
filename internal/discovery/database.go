// internal/discovery/database.go
package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// BoardDatabase identifies USB serial adapters and boards that commonly
// run MicroPython.
type BoardDatabase struct {
	vendors map[uint16]*VendorInfo
}

// VendorInfo contains vendor-specific information
type VendorInfo struct {
	Name string
	// Confidence applies to products of this vendor that are not listed.
	Confidence float64
	products   map[uint16]*ProductInfo
}

// ProductInfo contains product-specific information
type ProductInfo struct {
	Model      string
	Native     bool // USB handled by the MicroPython firmware itself, not a bridge chip
	Confidence float64
}

// NewBoardDatabase creates and initializes the board database
func NewBoardDatabase() *BoardDatabase {
	db := &BoardDatabase{
		vendors: make(map[uint16]*VendorInfo),
	}
	db.initializeDatabase()
	return db
}

func (db *BoardDatabase) initializeDatabase() {
	db.AddVendor(0x2E8A, &VendorInfo{Name: "Raspberry Pi", Confidence: 0.7})
	db.AddProduct(0x2E8A, 0x0005, &ProductInfo{Model: "RP2040 MicroPython", Native: true, Confidence: 0.99})
	db.AddProduct(0x2E8A, 0x000A, &ProductInfo{Model: "RP2040 CDC", Native: true, Confidence: 0.6})

	db.AddVendor(0xF055, &VendorInfo{Name: "MicroPython", Confidence: 0.95})
	db.AddProduct(0xF055, 0x9800, &ProductInfo{Model: "Pyboard (CDC+MSC)", Native: true, Confidence: 0.99})
	db.AddProduct(0xF055, 0x9801, &ProductInfo{Model: "Pyboard (CDC+HID)", Native: true, Confidence: 0.99})
	db.AddProduct(0xF055, 0x9802, &ProductInfo{Model: "Pyboard (CDC)", Native: true, Confidence: 0.99})

	db.AddVendor(0x303A, &VendorInfo{Name: "Espressif", Confidence: 0.7})
	db.AddProduct(0x303A, 0x1001, &ProductInfo{Model: "ESP32-S3/C3 USB JTAG serial", Native: true, Confidence: 0.8})
	db.AddProduct(0x303A, 0x4001, &ProductInfo{Model: "ESP32-S2 TinyUSB", Native: true, Confidence: 0.85})

	db.AddVendor(0x239A, &VendorInfo{Name: "Adafruit", Confidence: 0.6})

	db.AddVendor(0x1A86, &VendorInfo{Name: "QinHeng Electronics", Confidence: 0.5})
	db.AddProduct(0x1A86, 0x7523, &ProductInfo{Model: "CH340 serial", Confidence: 0.6})
	db.AddProduct(0x1A86, 0x55D4, &ProductInfo{Model: "CH9102 serial", Confidence: 0.6})

	db.AddVendor(0x10C4, &VendorInfo{Name: "Silicon Labs", Confidence: 0.5})
	db.AddProduct(0x10C4, 0xEA60, &ProductInfo{Model: "CP210x UART bridge", Confidence: 0.6})

	db.AddVendor(0x0403, &VendorInfo{Name: "FTDI", Confidence: 0.4})
	db.AddProduct(0x0403, 0x6001, &ProductInfo{Model: "FT232R UART", Confidence: 0.5})
	db.AddProduct(0x0403, 0x6015, &ProductInfo{Model: "FT231X UART", Confidence: 0.5})
}

// Lookup identifies a VID/PID pair given as enumerator hex strings.
// ok is false when the vendor is unknown.
func (db *BoardDatabase) Lookup(vid, pid string) (vendor *VendorInfo, product *ProductInfo, ok bool) {
	vendorID, err := parseUSBID(vid)
	if err != nil {
		return nil, nil, false
	}
	vendor, ok = db.vendors[vendorID]
	if !ok {
		return nil, nil, false
	}
	if productID, err := parseUSBID(pid); err == nil {
		product = vendor.products[productID]
	}
	return vendor, product, true
}

// IsKnownVendor checks if a vendor ID is in the database
func (db *BoardDatabase) IsKnownVendor(vendorID uint16) bool {
	_, exists := db.vendors[vendorID]
	return exists
}

// GetTotalProductCount returns total number of known products
func (db *BoardDatabase) GetTotalProductCount() int {
	total := 0
	for _, vendor := range db.vendors {
		total += len(vendor.products)
	}
	return total
}

// AddVendor adds a new vendor to the database
func (db *BoardDatabase) AddVendor(vendorID uint16, info *VendorInfo) {
	if info.products == nil {
		info.products = make(map[uint16]*ProductInfo)
	}
	db.vendors[vendorID] = info
}

// AddProduct adds a new product to an existing vendor
func (db *BoardDatabase) AddProduct(vendorID, productID uint16, info *ProductInfo) {
	if vendor, exists := db.vendors[vendorID]; exists {
		vendor.products[productID] = info
	}
}

func parseUSBID(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	n, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid USB id %q: %w", s, err)
	}
	return uint16(n), nil
}
