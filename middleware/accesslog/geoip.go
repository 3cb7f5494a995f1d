package accesslog

import (
	"net"

	"github.com/oschwald/maxminddb-golang"
	"github.com/pkg/errors"
)

// GeoRecord holds the GeoIP properties that can be logged
type GeoRecord struct {
	Country   string
	City      string
	Continent string
}

// Get returns the named property
func (r GeoRecord) Get(name string) string {
	switch name {
	case "country":
		return r.Country
	case "city":
		return r.City
	case "continent":
		return r.Continent
	}
	return ""
}

// GeoResolver resolves an ip address to a GeoRecord
type GeoResolver interface {
	Lookup(ip string) (GeoRecord, bool)
}

// MaxMindResolver is a GeoResolver backed by a MaxMind database file
type MaxMindResolver struct {
	db *maxminddb.Reader
}

type maxMindRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Continent struct {
		Code string `maxminddb:"code"`
	} `maxminddb:"continent"`
}

// OpenMaxMind opens the MaxMind database at the passed path
func OpenMaxMind(path string) (*MaxMindResolver, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open geoip database '%s'", path)
	}
	return &MaxMindResolver{db: db}, nil
}

// Lookup implements the GeoResolver interface
func (r *MaxMindResolver) Lookup(ip string) (GeoRecord, bool) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return GeoRecord{}, false
	}
	var rec maxMindRecord
	if err := r.db.Lookup(parsed, &rec); err != nil {
		return GeoRecord{}, false
	}
	out := GeoRecord{
		Country:   rec.Country.ISOCode,
		City:      rec.City.Names["en"],
		Continent: rec.Continent.Code,
	}
	return out, out != GeoRecord{}
}

// Close closes the underlying database
func (r *MaxMindResolver) Close() error {
	return r.db.Close()
}
