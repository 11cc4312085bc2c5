package clients

const (
	userAgent   = "withdraw-backend/1.0"
	serviceName = "withdraw-backend"
)
