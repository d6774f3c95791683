package dto

// AddProxiesRequest bulk-imports proxies as host:port[:user:pass] lines.
type AddProxiesRequest struct {
	Proxies  []string `json:"proxies"`
	Protocol string   `json:"protocol"`
}

type AddProxiesResponse struct {
	Imported int         `json:"imported"`
	Rejected []string    `json:"rejected,omitempty"`
	Proxies  []ProxyInfo `json:"proxies"`
}
