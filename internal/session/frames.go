package session

// inboundFrame is the tagged union over every recognised inbound message
// kind. Fields not relevant to a given type are left zero.
type inboundFrame struct {
	Type string `json:"type"`

	// register
	UserID string `json:"userId"`

	// register_expected_invoice
	InvoiceNumber string          `json:"invoiceNumber"`
	PlayerID      string          `json:"playerId"`
	OrderData     orderDataFrame  `json:"orderData"`

	// game_event
	Event string `json:"event"`

	// order
	OrderPayload orderPayloadFrame `json:"data"`

	// send-to
	TargetUserID string `json:"targetUserId"`
	Message      interface{} `json:"message"`

	// admin command
	Command string `json:"command"`
	Source  string `json:"source"`
}

type orderDataFrame struct {
	CustomerName  string                 `json:"customerName"`
	CustomerEmail string                 `json:"customerEmail"`
	OrderID       string                 `json:"orderId"`
	Summary       map[string]interface{} `json:"summary"`
}

type orderPayloadFrame struct {
	CustomerName  string      `json:"customerName"`
	CustomerEmail string      `json:"customerEmail"`
	Items         []orderItem `json:"items"`
}

type orderItem struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

// Outbound frame constructors. Each returns a map ready for json.Marshal;
// matches the teacher's preference for ad-hoc response maps over one
// struct per wire shape.

func welcomeFrame() map[string]interface{} {
	return map[string]interface{}{
		"type":    "welcome",
		"message": "connected to invoice delivery core",
		"availableCommands": []string{
			"register", "register_expected_invoice", "request_invoice",
			"game_event", "order", "send-to",
		},
	}
}

func gameStatusFrame(state string, updatedAt, updatedBy string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "game_status",
		"status":      state,
		"lastUpdated": updatedAt,
		"updatedBy":   updatedBy,
	}
}

func registerResponseFrame(status, userID, message string) map[string]interface{} {
	return map[string]interface{}{
		"type":    "register_response",
		"status":  status,
		"userId":  userID,
		"message": message,
	}
}

func registerExpectedInvoiceResponseFrame(status, invoiceNumber, playerID, message string) map[string]interface{} {
	return map[string]interface{}{
		"type":          "register_expected_invoice_response",
		"status":        status,
		"invoiceNumber": invoiceNumber,
		"playerId":      playerID,
		"message":       message,
	}
}

func invoiceReadyFrame(pn, filename string, fileSize int64, processedAt, message string) map[string]interface{} {
	return map[string]interface{}{
		"type":          "invoice_ready",
		"invoiceNumber": pn,
		"filename":      filename,
		"fileSize":      fileSize,
		"processedAt":   processedAt,
		"message":       message,
	}
}

func invoicePDFFrame(pn, filename, base64Data string, fileSize int64, processedAt string, s3Key string, s3Size int64, s3LastModified string, summary map[string]interface{}) map[string]interface{} {
	frame := map[string]interface{}{
		"type":          "invoice_pdf",
		"status":        "success",
		"invoiceNumber": pn,
		"filename":      filename,
		"mimeType":      "application/pdf",
		"base64Data":    base64Data,
		"fileSize":      fileSize,
		"processedAt":   processedAt,
		"s3Metadata": map[string]interface{}{
			"s3Key":          s3Key,
			"s3Size":         s3Size,
			"s3LastModified": s3LastModified,
		},
	}
	if summary != nil {
		frame["summary"] = summary
	}
	return frame
}

func invoiceResponseErrorFrame(pn, message string) map[string]interface{} {
	return map[string]interface{}{
		"type":          "invoice_response",
		"status":        "error",
		"invoiceNumber": pn,
		"message":       message,
	}
}

func orderResponseFrame(status, orderID, message, customerName, customerEmail string, itemCount int) map[string]interface{} {
	return map[string]interface{}{
		"type":          "order_response",
		"status":        status,
		"orderId":       orderID,
		"message":       message,
		"customerName":  customerName,
		"customerEmail": customerEmail,
		"itemCount":     itemCount,
	}
}

func orderResponseErrorFrame(errMsg, message string) map[string]interface{} {
	return map[string]interface{}{
		"type":    "order_response",
		"status":  "error",
		"error":   errMsg,
		"message": message,
	}
}

func directMessageFrame(from string, message interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":    "direct_message",
		"from":    from,
		"message": message,
	}
}

func sendResponseFrame(status, message string) map[string]interface{} {
	return map[string]interface{}{
		"type":    "send_response",
		"status":  status,
		"message": message,
	}
}
