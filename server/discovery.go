package server

import (
	"os"
	"sort"
	"sync"
	"time"

	"llmqualitybench/internal/config"
)

// defaultConfigPath is used when CONFIG_PATH is not set
const defaultConfigPath = "config.yaml"

// VendorDiscoveryCache caches the vendor listing. Lookups that resolve
// secrets never go through the cache.
type VendorDiscoveryCache struct {
	vendors   []VendorSummary
	timestamp time.Time
	mutex     sync.RWMutex
	ttl       time.Duration
}

var vendorCache = &VendorDiscoveryCache{
	ttl: 5 * time.Minute, // Cache for 5 minutes
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return defaultConfigPath
}

// loadConfigFile loads the vendor/feature YAML. A missing file is not an
// error; the server can run on environment vendors alone.
func loadConfigFile() (*config.File, error) {
	path := configPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return config.Load(path)
}

// DiscoverVendors lists every vendor runs can reference, YAML config first
// and environment variables second. YAML wins name collisions.
func DiscoverVendors() ([]VendorSummary, error) {
	if cached := vendorCache.get(); cached != nil {
		AppLogger.Debug("Using cached vendor discovery")
		return cached, nil
	}

	seen := make(map[string]bool)
	var vendors []VendorSummary

	cfg, err := loadConfigFile()
	if err != nil {
		AppLogger.Warn("Vendor discovery: %v", err)
	}
	if cfg != nil {
		for name, v := range cfg.Vendors {
			vendors = append(vendors, vendorSummary(name, v, "config"))
			seen[name] = true
		}
	}

	for name, v := range VendorsFromEnvironment() {
		if seen[name] {
			AppLogger.Warn("Environment vendor %q shadowed by config file entry", name)
			continue
		}
		vendors = append(vendors, vendorSummary(name, v, "environment"))
	}

	sort.Slice(vendors, func(i, j int) bool { return vendors[i].Name < vendors[j].Name })

	vendorCache.set(vendors)
	AppLogger.Info("Discovered %d vendors", len(vendors))
	return vendors, nil
}

// vendorSummary strips a vendor down to what may leave the process.
func vendorSummary(name string, v config.Vendor, source string) VendorSummary {
	s := VendorSummary{
		Name:       name,
		Kind:       "chat",
		BaseURL:    v.APIBase,
		PredictURL: v.PredictURL,
		APIKeyEnv:  v.APIKeyEnv,
		Source:     source,
	}
	if v.PredictURL != "" {
		s.Kind = "prediction"
	}
	for model := range v.Models {
		s.Models = append(s.Models, model)
	}
	sort.Strings(s.Models)
	return s
}

// LookupVendor resolves the named vendor, config file first and then
// environment variables. Resolution pulls credentials fresh each call.
func LookupVendor(name string) (*config.Resolved, error) {
	cfg, err := loadConfigFile()
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		if _, ok := cfg.Vendors[name]; ok {
			return cfg.Vendor(name)
		}
	}

	envVendors := VendorsFromEnvironment()
	if _, ok := envVendors[name]; ok {
		envFile := &config.File{Vendors: envVendors}
		return envFile.Vendor(name)
	}

	if cfg != nil {
		// Produce the config package's not-found error with its
		// available-vendors listing.
		return cfg.Vendor(name)
	}
	return nil, config.Errorf("vendor %q is not configured (no config file at %s and no matching environment variables)",
		name, configPath())
}

// LookupFeature returns the named feature from the config file, falling back
// to the built-in default when no file defines any.
func LookupFeature(name string) (*config.Feature, error) {
	if name == "" {
		name = "default"
	}

	cfg, err := loadConfigFile()
	if err != nil {
		return nil, err
	}
	if cfg != nil && len(cfg.Features) > 0 {
		if _, ok := cfg.Features[name]; !ok && name == "default" {
			return config.DefaultFeature(), nil
		}
		return cfg.Feature(name)
	}

	if name == "default" {
		return config.DefaultFeature(), nil
	}
	return nil, config.Errorf("feature %q is not defined (no config file at %s)", name, configPath())
}

func (c *VendorDiscoveryCache) get() []VendorSummary {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.vendors == nil || time.Since(c.timestamp) > c.ttl {
		return nil
	}
	return c.vendors
}

func (c *VendorDiscoveryCache) set(vendors []VendorSummary) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.vendors = vendors
	c.timestamp = time.Now()
}

// InvalidateVendorCache clears the vendor discovery cache
func InvalidateVendorCache() {
	vendorCache.mutex.Lock()
	defer vendorCache.mutex.Unlock()

	vendorCache.vendors = nil
	vendorCache.timestamp = time.Time{}

	AppLogger.Debug("Vendor discovery cache invalidated")
}
