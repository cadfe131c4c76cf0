package config

import (
	"errors"
	"fmt"
	"net/netip"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"go4.org/netipx"
)

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Proxmox),
		validation.Field(&c.Router),
		validation.Field(&c.SSH),
		validation.Field(&c.Velocity),
		validation.Field(&c.Store),
		validation.Field(&c.Provisioning),
	)
}

// Validate implements validation.Validatable.
func (p ProxmoxConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.URL, validation.Required, is.URL),
		validation.Field(&p.Node, validation.Required),
		validation.Field(&p.TokenSecret, validation.When(p.TokenID != "", validation.Required)),
		validation.Field(&p.Username, validation.When(p.TokenID == "",
			validation.Required.Error("username is required when token_id is not set"))),
		validation.Field(&p.Password, validation.When(p.TokenID == "", validation.Required)),
	)
}

// Validate implements validation.Validatable.
func (r RouterConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	err := validation.ValidateStruct(&r,
		validation.Field(&r.URL, validation.Required, is.URL),
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.RangeStart, validation.Required, is.IPv4),
		validation.Field(&r.RangeEnd, validation.Required, is.IPv4),
	)
	if err != nil {
		return err
	}
	if _, err := r.AddressRange(); err != nil {
		return err
	}
	return nil
}

// AddressRange returns the configured reservation range.
func (r RouterConfig) AddressRange() (netipx.IPRange, error) {
	start, err := netip.ParseAddr(r.RangeStart)
	if err != nil {
		return netipx.IPRange{}, fmt.Errorf("invalid range_start: %w", err)
	}
	end, err := netip.ParseAddr(r.RangeEnd)
	if err != nil {
		return netipx.IPRange{}, fmt.Errorf("invalid range_end: %w", err)
	}
	rng := netipx.IPRangeFrom(start, end)
	if !rng.IsValid() {
		return netipx.IPRange{}, errors.New("range_start must not be greater than range_end")
	}
	return rng, nil
}

// Validate implements validation.Validatable.
func (s SSHConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Port, validation.Min(1), validation.Max(65535)),
	)
}

// Validate implements validation.Validatable.
func (v VelocityConfig) Validate() error {
	if !v.Enabled {
		return nil
	}
	return validation.ValidateStruct(&v,
		validation.Field(&v.Host, validation.Required, is.Host),
		validation.Field(&v.User, validation.Required),
		validation.Field(&v.Password, validation.When(v.KeyFile == "",
			validation.Required.Error("password or key_file is required"))),
		validation.Field(&v.ConfigPath, validation.Required),
	)
}

// Validate implements validation.Validatable.
func (s StoreConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Backend, validation.Required, validation.In("file", "s3")),
		validation.Field(&s.Dir, validation.When(s.Backend == "file", validation.Required)),
		validation.Field(&s.S3, validation.Skip.When(s.Backend != "s3")),
	)
}

// Validate implements validation.Validatable.
func (s S3StoreConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Bucket, validation.Required),
		validation.Field(&s.Endpoint, is.URL),
	)
}

// Validate implements validation.Validatable.
func (p ProvisioningConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.MaxGuestsPerOwner, validation.Min(1)),
	)
}
