package dto

// Instance is one running process visible through the heartbeat keys.
type Instance struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Region    string `json:"region"`
	ProxyPort int    `json:"proxy_port"`
	APIPort   int    `json:"api_port"`
	Current   bool   `json:"current"`
}
