package bridge

// SchemaDomainInfo describes one protocol domain in Schema.getDomains.
type SchemaDomainInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type GetDomainsResult struct {
	Domains []SchemaDomainInfo `json:"domains"`
}

// SchemaBackend is the capability surface of the Schema domain.
type SchemaBackend interface {
	GetDomains() (GetDomainsResult, error)
}

type schemaDomain struct{}

var _ SchemaBackend = schemaDomain{}

// GetDomains reports no domains; clients fall back to their built-in schema.
func (schemaDomain) GetDomains() (GetDomainsResult, error) {
	return GetDomainsResult{Domains: []SchemaDomainInfo{}}, nil
}

func (s schemaDomain) Register(r *Registry, _ *Loop) {
	r.Handle("Schema.getDomains", Call(func(struct{}) (GetDomainsResult, error) {
		return s.GetDomains()
	}))
}
