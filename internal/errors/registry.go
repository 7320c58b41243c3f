package errors

// Error codes.
const (
	// Decode errors (E001-E019)
	CodeVersionMismatch = "E001"
	CodeTruncated       = "E002"
	CodeUnknownType     = "E003"
	CodeMalformed       = "E004"

	// Protocol errors (E020-E039)
	CodeProtocolViolation = "E020"
	CodeRejected          = "E021"
	CodeShutdown          = "E022"

	// Timeouts (E040-E059)
	CodeTimeout          = "E040"
	CodeHandshakeTimeout = "E041"

	// Capacity (E060-E079)
	CodeMessageTooLarge = "E060"
	CodeServerFull      = "E061"

	// Transport (E080-E099)
	CodeBindFailed    = "E080"
	CodeDialFailed    = "E081"
	CodeUpgradeFailed = "E082"
	CodeTransportLost = "E083"

	// Config (E100-E119)
	CodeConfigNotFound = "E100"
	CodeConfigParse    = "E101"
	CodeConfigInvalid  = "E102"

	// Storage (E120-E139)
	CodeBanlistOpen  = "E120"
	CodeReplayWrite  = "E121"
	CodeReplayUpload = "E122"

	// CLI (E140-E159)
	CodeProbeFailed = "E140"
)

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Decode Errors (E001-E019)
	// ============================================

	CodeVersionMismatch: {
		Category:   CategoryDecode,
		Message:    "Protocol version mismatch",
		Detail:     "The datagram carries a protocol version this build does not speak. The packet was dropped.",
		Suggestion: "Run the same worldsync version on client and server.",
	},
	CodeTruncated: {
		Category: CategoryDecode,
		Message:  "Truncated datagram",
		Detail:   "The datagram is shorter than its header or declared length. The packet was dropped.",
	},
	CodeUnknownType: {
		Category: CategoryDecode,
		Message:  "Unknown message type",
		Detail:   "The datagram's message tag is not recognized. The packet was dropped.",
	},
	CodeMalformed: {
		Category: CategoryDecode,
		Message:  "Malformed message",
		Detail:   "The message body is structurally invalid. The packet was dropped.",
	},

	// ============================================
	// Protocol Errors (E020-E039)
	// ============================================

	CodeProtocolViolation: {
		Category: CategoryProtocol,
		Message:  "Protocol violation",
		Detail:   "The peer sent a message its role may not send, or a handshake that does not match the connection. The connection was closed.",
	},
	CodeRejected: {
		Category:   CategoryProtocol,
		Message:    "Handshake rejected",
		Detail:     "The server refused the connection.",
		Suggestion: "Check the reject reason: the server may be full, the address banned, or the MTU too small.",
	},
	CodeShutdown: {
		Category: CategoryProtocol,
		Message:  "Server shutting down",
		Detail:   "The remote endpoint is closing and ended every connection.",
	},

	// ============================================
	// Timeouts (E040-E059)
	// ============================================

	CodeTimeout: {
		Category: CategoryTimeout,
		Message:  "Connection timed out",
		Detail:   "Nothing was received from the peer within the liveness timeout.",
	},
	CodeHandshakeTimeout: {
		Category:   CategoryTimeout,
		Message:    "Handshake timed out",
		Detail:     "The server did not accept the handshake in time.",
		Suggestion: "Check that the server address is correct and reachable over UDP.",
	},

	// ============================================
	// Capacity (E060-E079)
	// ============================================

	CodeMessageTooLarge: {
		Category:   CategoryCapacity,
		Message:    "Message too large",
		Detail:     "The message does not fit the connection MTU and cannot be fragmented.",
		Suggestion: "Reliable messages are never fragmented; keep control payloads under the MTU.",
	},
	CodeServerFull: {
		Category: CategoryCapacity,
		Message:  "Server full",
		Detail:   "The server reached its connection limit.",
	},

	// ============================================
	// Transport (E080-E099)
	// ============================================

	CodeBindFailed: {
		Category:   CategoryTransport,
		Message:    "Failed to bind socket",
		Detail:     "The listen address could not be bound.",
		Suggestion: "Pick another port or stop the process holding it.",
	},
	CodeDialFailed: {
		Category: CategoryTransport,
		Message:  "Failed to open socket",
		Detail:   "The client socket could not be created.",
	},
	CodeUpgradeFailed: {
		Category: CategoryTransport,
		Message:  "WebSocket upgrade failed",
		Detail:   "The HTTP request could not be upgraded to a WebSocket datagram stream.",
	},
	CodeTransportLost: {
		Category:   CategoryTransport,
		Message:    "Socket stopped receiving",
		Detail:     "The socket can no longer read datagrams. Every connection on it is lost.",
		Suggestion: "Check the network interface and restart the process.",
	},

	// ============================================
	// Config (E100-E119)
	// ============================================

	CodeConfigNotFound: {
		Category:   CategoryConfig,
		Message:    "Config file not found",
		Detail:     "The configuration file does not exist.",
		Suggestion: "Run 'worldsyncd config init' to write a default worldsync.yaml.",
	},
	CodeConfigParse: {
		Category: CategoryConfig,
		Message:  "Invalid config syntax",
		Detail:   "The configuration file is not valid YAML.",
	},
	CodeConfigInvalid: {
		Category: CategoryConfig,
		Message:  "Invalid config value",
		Detail:   "A configuration value is out of range.",
	},

	// ============================================
	// Storage (E120-E139)
	// ============================================

	CodeBanlistOpen: {
		Category: CategoryStorage,
		Message:  "Failed to open ban list",
		Detail:   "The ban list database could not be opened or migrated.",
	},
	CodeReplayWrite: {
		Category: CategoryStorage,
		Message:  "Failed to write recording",
		Detail:   "A snapshot recording could not be written to disk.",
	},
	CodeReplayUpload: {
		Category:   CategoryStorage,
		Message:    "Failed to upload recording",
		Detail:     "A snapshot recording could not be uploaded to S3.",
		Suggestion: "Check the bucket name, region and AWS credentials.",
	},

	// ============================================
	// CLI (E140-E159)
	// ============================================

	CodeProbeFailed: {
		Category: CategoryCLI,
		Message:  "Probe failed",
		Detail:   "The probe client could not complete a session with the server.",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
