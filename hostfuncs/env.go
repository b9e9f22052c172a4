package hostfuncs

// EnvGetRequest reads one env binding.
type EnvGetRequest struct {
	Name string `json:"name"`
}

// EnvGetResponse carries the binding's value, if bound.
type EnvGetResponse struct {
	Value string `json:"value,omitempty"`
	Found bool   `json:"found"`
}

// PerformEnvGet serves env_get.
func PerformEnvGet(env map[string]string, req EnvGetRequest) EnvGetResponse {
	v, ok := env[req.Name]
	return EnvGetResponse{Value: v, Found: ok}
}
