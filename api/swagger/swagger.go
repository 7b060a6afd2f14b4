package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Sorteo API",
        "description": "Raffle portal: ticket image validation handoff, participant registration and admin panel.",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Validation", "description": "Ticket upload and asynchronous validation"},
        {"name": "Registration", "description": "Participant sign-up with an approval token"},
        {"name": "Dashboard", "description": "Public counters and admin metrics"},
        {"name": "Authentication", "description": "Admin login"},
        {"name": "Participants", "description": "Admin participant management"},
        {"name": "Health", "description": "Liveness and readiness"}
    ],
    "paths": {
        "/health": {
            "get": {"tags": ["Health"], "summary": "Liveness probe", "responses": {"200": {"description": "OK"}}}
        },
        "/ready": {
            "get": {"tags": ["Health"], "summary": "Readiness probe", "responses": {"200": {"description": "Ready"}, "503": {"description": "Database unreachable"}}}
        },
        "/upload": {
            "post": {
                "tags": ["Validation"],
                "summary": "Upload a ticket image for validation",
                "consumes": ["multipart/form-data"],
                "parameters": [{"name": "ticket", "in": "formData", "type": "file", "required": true}],
                "responses": {
                    "200": {"description": "Resolved synchronously", "schema": {"$ref": "#/definitions/UploadResponse"}},
                    "202": {"description": "Processing", "schema": {"$ref": "#/definitions/UploadResponse"}},
                    "400": {"description": "Missing image", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "413": {"description": "Image too large", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "415": {"description": "Not an image", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Validation service refused the request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/validation-status/{correlationId}": {
            "get": {
                "tags": ["Validation"],
                "summary": "Poll a ticket validation",
                "parameters": [{"name": "correlationId", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "Current status", "schema": {"$ref": "#/definitions/ValidationStatusResponse"}},
                    "404": {"description": "Unknown correlation ID", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/webhook/validation-response": {
            "post": {
                "tags": ["Validation"],
                "summary": "Receive a validation verdict",
                "parameters": [
                    {"name": "X-Webhook-Secret", "in": "header", "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ValidationCallback"}}
                ],
                "responses": {
                    "200": {"description": "Received", "schema": {"$ref": "#/definitions/CallbackResponse"}},
                    "401": {"description": "Invalid secret", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown correlation ID", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "410": {"description": "Validation expired", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/register": {
            "post": {
                "tags": ["Registration"],
                "summary": "Register a participant",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterRequest"}}],
                "responses": {
                    "201": {"description": "Registered", "schema": {"$ref": "#/definitions/RegisterResponse"}},
                    "400": {"description": "Validate the ticket first", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Still processing or already used", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "410": {"description": "Validation expired", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Ticket rejected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Ticket number allocation failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/stats": {
            "get": {"tags": ["Dashboard"], "summary": "Public raffle counters", "responses": {"200": {"description": "OK"}}}
        },
        "/admin/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate an admin",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}],
                "responses": {"200": {"description": "Access token"}, "401": {"description": "Invalid credentials"}}
            }
        },
        "/admin/metrics": {
            "get": {"tags": ["Dashboard"], "summary": "Admin metrics", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}
        },
        "/admin/participants": {
            "get": {
                "tags": ["Participants"],
                "summary": "List participants",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "province", "in": "query", "type": "string"},
                    {"name": "validated", "in": "query", "type": "boolean"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "includeDeleted", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "delete": {
                "tags": ["Participants"],
                "summary": "Delete every participant (SUPERADMIN)",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/WipeParticipantsRequest"}}],
                "responses": {"200": {"description": "Deleted"}, "400": {"description": "Wrong confirmation"}, "403": {"description": "Forbidden"}}
            }
        },
        "/admin/participants/provinces": {
            "get": {"tags": ["Participants"], "summary": "Provinces with participants", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}
        },
        "/admin/participants/export": {
            "get": {
                "tags": ["Participants"],
                "summary": "Export participants",
                "produces": ["text/csv", "application/pdf"],
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}],
                "responses": {"200": {"description": "File download"}}
            }
        },
        "/admin/participants/{id}": {
            "get": {
                "tags": ["Participants"],
                "summary": "Participant detail with a signed image link",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}
            },
            "delete": {
                "tags": ["Participants"],
                "summary": "Soft delete a participant and release its ticket number",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DeleteParticipantRequest"}}
                ],
                "responses": {"200": {"description": "Deleted"}, "404": {"description": "Not found"}}
            }
        },
        "/admin/images/{token}": {
            "get": {
                "tags": ["Participants"],
                "summary": "Ticket image behind a signed link",
                "produces": ["image/jpeg", "image/png", "image/webp"],
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "token", "in": "path", "type": "string", "required": true}],
                "responses": {"200": {"description": "Image"}, "403": {"description": "Link invalid or expired"}}
            }
        }
    },
    "definitions": {
        "UploadResponse": {
            "type": "object",
            "properties": {
                "correlationId": {"type": "string"},
                "status": {"type": "string", "enum": ["processing", "approved", "rejected"]},
                "pollAfterMs": {"type": "integer"},
                "reason": {"type": "string"},
                "confidence": {"type": "number"},
                "approvalToken": {"type": "string"},
                "nextStep": {"type": "string", "enum": ["wait", "register", "retry", "done"]},
                "expiresAt": {"type": "string", "format": "date-time"}
            }
        },
        "ValidationStatusResponse": {
            "type": "object",
            "properties": {
                "correlationId": {"type": "string"},
                "status": {"type": "string", "enum": ["pending", "approved", "rejected", "expired"]},
                "reason": {"type": "string"},
                "confidence": {"type": "number"},
                "approvalToken": {"type": "string"},
                "registered": {"type": "boolean"},
                "nextStep": {"type": "string"},
                "pollAfterMs": {"type": "integer"},
                "expiresAt": {"type": "string", "format": "date-time"}
            }
        },
        "ValidationCallback": {
            "type": "object",
            "properties": {
                "correlationId": {"type": "string"},
                "valid": {"type": "boolean"},
                "reason": {"type": "string"},
                "confidence": {"type": "number", "minimum": 0, "maximum": 1}
            },
            "required": ["correlationId", "valid"]
        },
        "CallbackResponse": {
            "type": "object",
            "properties": {
                "received": {"type": "boolean"},
                "alreadyApplied": {"type": "boolean"},
                "status": {"type": "string"}
            }
        },
        "RegisterRequest": {
            "type": "object",
            "properties": {
                "approvalToken": {"type": "string"},
                "name": {"type": "string"},
                "lastName": {"type": "string"},
                "nationalId": {"type": "string"},
                "phone": {"type": "string"},
                "province": {"type": "string"}
            },
            "required": ["approvalToken", "name", "lastName", "nationalId", "phone", "province"]
        },
        "RegisterResponse": {
            "type": "object",
            "properties": {
                "participantId": {"type": "string"},
                "ticketNumber": {"type": "string"},
                "name": {"type": "string"},
                "lastName": {"type": "string"},
                "registeredAt": {"type": "string", "format": "date-time"}
            }
        },
        "LoginRequest": {
            "type": "object",
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["username", "password"]
        },
        "DeleteParticipantRequest": {
            "type": "object",
            "properties": {"reason": {"type": "string"}},
            "required": ["reason"]
        },
        "WipeParticipantsRequest": {
            "type": "object",
            "properties": {"confirm": {"type": "string", "enum": ["DELETE ALL"]}},
            "required": ["confirm"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"},
                "total_pages": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
