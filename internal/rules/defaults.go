package rules

// Special-cased rule ids the classifier consults directly after the general
// pattern pass.
const (
	RulePasswordField  = "password_detection"
	RuleExternalDomain = "external_domain_request"
	RuleClipboardLarge = "clipboard_large_data"
)

// DefaultDocument returns the built-in rule set used when no rule source can
// be loaded. Classification never runs with zero rules.
func DefaultDocument() Document {
	return Document{
		Rules: []Rule{
			{
				ID:          RulePasswordField,
				Name:        "Password Field",
				Description: "Entry into a password-type form field",
				Type:        "form_input",
				Severity:    "high",
				Enabled:     true,
			},
			{
				ID:          "sensitive_field_names",
				Name:        "Sensitive Field Names",
				Description: "Form fields whose name suggests credentials or payment data",
				Type:        "form_input",
				Patterns:    []string{`password`, `credit.?card`, `\bssn\b`, `\bcvv\b`, `secret`, `token`, `auth`},
				Severity:    "high",
				Enabled:     true,
			},
			{
				ID:          "sensitive_network_payload",
				Name:        "Sensitive Network Payload",
				Description: "Outbound requests carrying credential-shaped parameters",
				Type:        "network",
				Patterns:    []string{`password`, `credit.?card`, `ssn=`, `token=`, `secret=`, `api.?key`},
				Severity:    "high",
				Enabled:     true,
			},
			{
				ID:          RuleExternalDomain,
				Name:        "External Domain Request",
				Description: "Request to a domain other than the page's own",
				Type:        "network",
				Severity:    "medium",
				Enabled:     true,
			},
			{
				ID:          "sensitive_storage_keys",
				Name:        "Sensitive Storage Keys",
				Description: "Storage access under credential-shaped keys",
				Type:        "storage",
				Patterns:    []string{`token`, `auth`, `session`, `jwt`, `password`, `secret`},
				Severity:    "high",
				Enabled:     true,
			},
			{
				ID:          RuleClipboardLarge,
				Name:        "Large Clipboard Transfer",
				Description: "Clipboard payload above the size threshold",
				Type:        "clipboard",
				Severity:    "medium",
				Enabled:     true,
				Threshold:   100,
			},
			{
				ID:          "form_sniffing",
				Name:        "Form Field Monitoring",
				Description: "Scripts accessing form input values",
				Type:        "script_analysis",
				Patterns:    []string{`\.value\s*=`, `getElementById.*\.value`, `querySelector.*input.*value`},
				Severity:    "medium",
				Enabled:     true,
			},
			{
				ID:          "clipboard_access",
				Name:        "Clipboard Access",
				Description: "Scripts reading clipboard data",
				Type:        "script_analysis",
				Patterns:    []string{`clipboardData`, `execCommand.*copy`, `execCommand.*paste`, `navigator\.clipboard`},
				Severity:    "high",
				Enabled:     true,
			},
			{
				ID:          "storage_access",
				Name:        "Local Storage Access",
				Description: "Scripts reading from local or session storage",
				Type:        "script_analysis",
				Patterns:    []string{`localStorage\.getItem`, `sessionStorage\.getItem`},
				Severity:    "low",
				Enabled:     true,
			},
			{
				ID:          "data_exfiltration",
				Name:        "Data Exfiltration",
				Description: "Scripts sending sensitive data externally",
				Type:        "script_analysis",
				Patterns:    []string{`fetch.*password`, `XMLHttpRequest.*send.*credit`, `postMessage.*token`},
				Severity:    "critical",
				Enabled:     true,
			},
		},
		IgnoreDomains: []string{
			"google-analytics.com",
			"googletagmanager.com",
			"doubleclick.net",
			"fonts.googleapis.com",
		},
		IgnorePatterns: []string{
			`^https?://localhost`,
			`^https?://127\.0\.0\.1`,
		},
		SeverityColors: map[string]string{
			"critical": "#dc3545",
			"high":     "#ff6b6b",
			"medium":   "#ffa726",
			"low":      "#4CAF50",
			"info":     "#17a2b8",
		},
		SeverityLabels: map[string]string{
			"critical": "Critical",
			"high":     "High",
			"medium":   "Medium",
			"low":      "Low",
			"info":     "Info",
		},
		EventTypes: map[string]string{
			"form_input":      "Form Input",
			"network":         "Network Request",
			"storage":         "Storage Access",
			"clipboard":       "Clipboard",
			"script_analysis": "Script Analysis",
		},
	}
}
