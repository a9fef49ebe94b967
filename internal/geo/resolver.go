// Package geo resolves source addresses to a display country and coordinates.
package geo

import (
	"fmt"
	"net"

	lru "github.com/hashicorp/golang-lru"
	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
)

// Fallback country names.
const (
	Unknown   = "unknown"
	PrivateIP = "Private IP"
	TestIP    = "Test IP (RFC5737)"
)

// Location is the resolved position of an address. Coordinates are nil when
// the database has none.
type Location struct {
	Country   string   `json:"country"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// CityLookup is the subset of *geoip2.Reader the resolver needs.
type CityLookup interface {
	City(ip net.IP) (*geoip2.City, error)
}

var (
	privateNets = mustParseCIDRs("10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7")
	testNets    = mustParseCIDRs("192.0.2.0/24", "198.51.100.0/24", "203.0.113.0/24", "2001:db8::/32")
)

// Resolver looks addresses up in a GeoIP2 City database and caches the
// answers. It is safe for concurrent use.
type Resolver struct {
	db     CityLookup
	closer func() error
	cache  *lru.Cache
	logger *zap.Logger
}

// Open opens the City database at path. An empty path yields a resolver that
// only applies the private and documentation range fallbacks.
func Open(path string, cacheSize int, logger *zap.Logger) (*Resolver, error) {
	if path == "" {
		return New(nil, cacheSize, logger)
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening GeoIP database: %w", err)
	}
	r, err := New(reader, cacheSize, logger)
	if err != nil {
		reader.Close()
		return nil, err
	}
	r.closer = reader.Close
	return r, nil
}

// New wraps an existing lookup. db may be nil.
func New(db CityLookup, cacheSize int, logger *zap.Logger) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("error creating geo cache: %w", err)
	}
	return &Resolver{db: db, cache: cache, logger: logger}, nil
}

// Resolve never fails: lookup errors end in one of the fallback names.
func (r *Resolver) Resolve(ip string) Location {
	if cached, ok := r.cache.Get(ip); ok {
		return cached.(Location)
	}

	loc := r.lookup(ip)
	r.cache.Add(ip, loc)
	return loc
}

func (r *Resolver) lookup(ip string) Location {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{Country: Unknown}
	}

	if r.db != nil {
		record, err := r.db.City(parsed)
		if err != nil {
			r.logger.Debug("geoip lookup failed", zap.String("ip", ip), zap.Error(err))
		} else if name := countryName(record); name != "" {
			lat, lon := record.Location.Latitude, record.Location.Longitude
			loc := Location{Country: name}
			if lat != 0 || lon != 0 {
				loc.Latitude, loc.Longitude = &lat, &lon
			}
			return loc
		}
	}

	return Location{Country: fallbackName(parsed)}
}

func countryName(record *geoip2.City) string {
	if record == nil {
		return ""
	}
	if name := record.Country.Names["en"]; name != "" {
		return name
	}
	return record.Country.IsoCode
}

func fallbackName(ip net.IP) string {
	switch {
	case containedIn(ip, testNets):
		return TestIP
	case ip.IsLoopback() || containedIn(ip, privateNets):
		return PrivateIP
	default:
		return Unknown
	}
}

func containedIn(ip net.IP, nets []*net.IPNet) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// Close releases the database.
func (r *Resolver) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}
