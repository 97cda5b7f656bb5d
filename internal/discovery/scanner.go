// internal/discovery/scanner.go
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// ListFunc enumerates serial ports with their USB details.
type ListFunc func() ([]*enumerator.PortDetails, error)

// DiscoveredDevice is a serial port that may have a board behind it.
type DiscoveredDevice struct {
	Path         string  `json:"path"`
	VendorID     string  `json:"vendor_id,omitempty"`
	ProductID    string  `json:"product_id,omitempty"`
	SerialNumber string  `json:"serial_number,omitempty"`
	Product      string  `json:"product,omitempty"`
	Vendor       string  `json:"vendor,omitempty"`
	Model        string  `json:"model,omitempty"`
	Confidence   float64 `json:"confidence"` // 0.0-1.0
}

// Scanner lists serial ports. By default only ports that expose a USB
// vendor and product id are reported, which leaves out virtual and
// built-in UARTs.
type Scanner struct {
	list     ListFunc
	database *BoardDatabase
	all      bool
	logger   *zap.Logger
}

// ScannerOption customizes a Scanner.
type ScannerOption func(*Scanner)

// WithListFunc replaces the OS enumerator.
func WithListFunc(list ListFunc) ScannerOption {
	return func(s *Scanner) {
		s.list = list
	}
}

// WithAllPorts also reports ports without USB ids.
func WithAllPorts(all bool) ScannerOption {
	return func(s *Scanner) {
		s.all = all
	}
}

// NewScanner creates a scanner over the OS serial port enumerator.
func NewScanner(logger *zap.Logger, opts ...ScannerOption) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scanner{
		list:     enumerator.GetDetailedPortsList,
		database: NewBoardDatabase(),
		logger:   logger.With(zap.String("scanner", "serial")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "serial"
}

// Scan performs serial port discovery. Results are ordered by likelihood of
// a MicroPython board, then by path.
func (s *Scanner) Scan(ctx context.Context) ([]*DiscoveredDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ports, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	discovered := make([]*DiscoveredDevice, 0, len(ports))
	for _, port := range ports {
		hasIDs := port.IsUSB && port.VID != "" && port.PID != ""
		if !hasIDs && !s.all {
			s.logger.Debug("Skipping port without USB ids", zap.String("port", port.Name))
			continue
		}
		discovered = append(discovered, s.identify(port))
	}

	sort.SliceStable(discovered, func(i, j int) bool {
		if discovered[i].Confidence != discovered[j].Confidence {
			return discovered[i].Confidence > discovered[j].Confidence
		}
		return discovered[i].Path < discovered[j].Path
	})

	s.logger.Info("Serial scan completed",
		zap.Int("ports", len(ports)),
		zap.Int("devices_found", len(discovered)),
	)
	return discovered, nil
}

func (s *Scanner) identify(port *enumerator.PortDetails) *DiscoveredDevice {
	device := &DiscoveredDevice{
		Path:         port.Name,
		VendorID:     strings.ToLower(port.VID),
		ProductID:    strings.ToLower(port.PID),
		SerialNumber: port.SerialNumber,
		Product:      port.Product,
	}
	if port.VID != "" && port.PID != "" {
		device.Confidence = 0.1
	}

	vendor, product, ok := s.database.Lookup(port.VID, port.PID)
	if !ok {
		return device
	}
	device.Vendor = vendor.Name
	device.Confidence = vendor.Confidence
	if product != nil {
		device.Model = product.Model
		device.Confidence = product.Confidence
	}
	return device
}
