// Package docs holds the swagger document for the control API, in the form
// swag init writes it. Regenerate with go generate ./internal/api.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/health": {
            "get": {
                "tags": [
                    "system"
                ],
                "summary": "Liveness and self id",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/api.healthResponse"
                        }
                    }
                }
            }
        },
        "/api/openapi.json": {
            "get": {
                "tags": [
                    "system"
                ],
                "summary": "This OpenAPI document",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {}
                        }
                    }
                }
            }
        },
        "/api/call": {
            "get": {
                "tags": [
                    "call"
                ],
                "summary": "Active call status",
                "produces": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/call.Status"
                        }
                    },
                    "404": {
                        "description": "no active call",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    }
                }
            }
        },
        "/api/call/start": {
            "post": {
                "tags": [
                    "call"
                ],
                "summary": "Start an outgoing call",
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "description": "Partner and call type",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/api.startRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/call.Status"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    },
                    "409": {
                        "description": "a call is already active",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    },
                    "422": {
                        "description": "microphone unavailable",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    }
                }
            }
        },
        "/api/call/answer": {
            "post": {
                "tags": [
                    "call"
                ],
                "summary": "Answer the ringing call",
                "produces": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/call.Status"
                        }
                    },
                    "404": {
                        "description": "nothing ringing",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    }
                }
            }
        },
        "/api/call/reject": {
            "post": {
                "tags": [
                    "call"
                ],
                "summary": "Reject the ringing call",
                "produces": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/api.okResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    }
                }
            }
        },
        "/api/call/hangup": {
            "post": {
                "tags": [
                    "call"
                ],
                "summary": "Hang up",
                "produces": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/api.okResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    }
                }
            }
        },
        "/api/call/mic": {
            "post": {
                "tags": [
                    "call"
                ],
                "summary": "Toggle the microphone",
                "produces": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/api.toggleResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    },
                    "409": {
                        "description": "deafened or not connected",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    }
                }
            }
        },
        "/api/call/video": {
            "post": {
                "tags": [
                    "call"
                ],
                "summary": "Toggle the camera",
                "description": "Turning the camera on from a screen share switches back to the camera.",
                "produces": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/api.toggleResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    },
                    "422": {
                        "description": "camera unavailable",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    }
                }
            }
        },
        "/api/call/deafen": {
            "post": {
                "tags": [
                    "call"
                ],
                "summary": "Toggle deafen",
                "description": "Deafen also mutes the microphone; undeafen restores the previous mic state.",
                "produces": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/api.toggleResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    }
                }
            }
        },
        "/api/call/screen": {
            "post": {
                "tags": [
                    "call"
                ],
                "summary": "Toggle screen share",
                "produces": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/api.toggleResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    },
                    "422": {
                        "description": "screen capture unavailable",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    }
                }
            }
        },
        "/api/call/volume": {
            "post": {
                "tags": [
                    "call"
                ],
                "summary": "Set the partner playback volume",
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "description": "Volume in [0,1], clamped",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/api.volumeRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/api.volumeResponse"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    }
                }
            }
        },
        "/api/calls/history": {
            "get": {
                "tags": [
                    "history"
                ],
                "summary": "Recent calls, newest first",
                "produces": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "type": "integer",
                        "default": 50,
                        "description": "Maximum entries",
                        "name": "limit",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/storage.CallEntry"
                            }
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    }
                }
            }
        },
        "/api/contacts": {
            "get": {
                "tags": [
                    "contacts"
                ],
                "summary": "List contacts",
                "produces": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/storage.Contact"
                            }
                        }
                    }
                }
            },
            "post": {
                "tags": [
                    "contacts"
                ],
                "summary": "Add or rename a contact",
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "description": "Contact",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/api.contactRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/storage.Contact"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    }
                }
            }
        },
        "/api/contacts/{id}/avatar": {
            "post": {
                "tags": [
                    "contacts"
                ],
                "summary": "Upload a contact avatar",
                "description": "Raw PNG, JPEG, GIF or WebP body. The blob is stored by content hash.",
                "consumes": [
                    "application/octet-stream"
                ],
                "produces": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "Contact id",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/api.avatarResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    },
                    "413": {
                        "description": "Request Entity Too Large",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    },
                    "415": {
                        "description": "Unsupported Media Type",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    }
                }
            }
        },
        "/blobs/{name}": {
            "get": {
                "tags": [
                    "contacts"
                ],
                "summary": "Fetch a stored blob",
                "produces": [
                    "image/png",
                    "image/jpeg",
                    "image/gif",
                    "image/webp",
                    "image/svg+xml"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "Blob name",
                        "name": "name",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK"
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/api.errorResponse"
                        }
                    }
                }
            }
        },
        "/api/logs": {
            "get": {
                "tags": [
                    "system"
                ],
                "summary": "Recent log lines",
                "produces": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "type": "integer",
                        "default": 200,
                        "description": "Number of lines",
                        "name": "tail",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/api.LogEntry"
                            }
                        }
                    }
                }
            }
        },
        "/api/events": {
            "get": {
                "tags": [
                    "events"
                ],
                "summary": "WebSocket stream of call events",
                "description": "Upgrade to a WebSocket. Each text frame is a StreamMessage of kind event or log.",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "type": "boolean",
                        "description": "Also follow log lines",
                        "name": "logs",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "JWT for clients that cannot set headers",
                        "name": "access_token",
                        "in": "query"
                    }
                ],
                "responses": {
                    "101": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/api.StreamMessage"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "api.healthResponse": {
            "type": "object",
            "properties": {
                "ok": {
                    "type": "boolean"
                },
                "self_id": {
                    "type": "string",
                    "example": "alice"
                }
            }
        },
        "api.okResponse": {
            "type": "object",
            "properties": {
                "ok": {
                    "type": "boolean"
                }
            }
        },
        "api.errorResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "string",
                    "example": "no active call"
                }
            }
        },
        "api.toggleResponse": {
            "type": "object",
            "properties": {
                "on": {
                    "type": "boolean"
                }
            }
        },
        "api.volumeResponse": {
            "type": "object",
            "properties": {
                "volume": {
                    "type": "number",
                    "example": 0.8
                }
            }
        },
        "api.avatarResponse": {
            "type": "object",
            "properties": {
                "avatar_url": {
                    "type": "string",
                    "example": "/blobs/3f2a9c.png"
                }
            }
        },
        "api.startRequest": {
            "type": "object",
            "properties": {
                "partner_id": {
                    "type": "string"
                },
                "type": {
                    "type": "string",
                    "enum": [
                        "audio",
                        "video"
                    ]
                }
            },
            "required": [
                "partner_id"
            ]
        },
        "api.volumeRequest": {
            "type": "object",
            "properties": {
                "volume": {
                    "type": "number"
                }
            },
            "required": [
                "volume"
            ]
        },
        "api.contactRequest": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "name": {
                    "type": "string"
                }
            },
            "required": [
                "id"
            ]
        },
        "api.LogEntry": {
            "type": "object",
            "properties": {
                "ts": {
                    "type": "string"
                },
                "msg": {
                    "type": "string"
                }
            }
        },
        "api.StreamMessage": {
            "type": "object",
            "properties": {
                "kind": {
                    "type": "string"
                },
                "event": {
                    "$ref": "#/definitions/call.Event"
                },
                "log": {
                    "$ref": "#/definitions/api.LogEntry"
                }
            }
        },
        "call.Profile": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "name": {
                    "type": "string"
                },
                "avatar_url": {
                    "type": "string"
                }
            }
        },
        "call.Metadata": {
            "type": "object",
            "properties": {
                "deafened": {
                    "type": "boolean"
                },
                "isScreenSharing": {
                    "type": "boolean"
                }
            }
        },
        "call.RTPStats": {
            "type": "object",
            "properties": {
                "track_id": {
                    "type": "string"
                },
                "packets": {
                    "type": "integer"
                },
                "bytes": {
                    "type": "integer"
                }
            }
        },
        "call.LinkStatus": {
            "type": "object",
            "properties": {
                "signaling": {
                    "type": "string"
                },
                "connection": {
                    "type": "string"
                },
                "offerer": {
                    "type": "boolean"
                },
                "senders": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "string"
                    }
                },
                "pending_candidates": {
                    "type": "integer"
                },
                "offers": {
                    "type": "integer"
                },
                "renegotiate_requests": {
                    "type": "integer"
                }
            }
        },
        "call.Status": {
            "type": "object",
            "properties": {
                "session_id": {
                    "type": "string"
                },
                "partner": {
                    "$ref": "#/definitions/call.Profile"
                },
                "type": {
                    "type": "string"
                },
                "state": {
                    "type": "string"
                },
                "is_caller": {
                    "type": "boolean"
                },
                "reason": {
                    "type": "string"
                },
                "mic_on": {
                    "type": "boolean"
                },
                "video_on": {
                    "type": "boolean"
                },
                "video_mode": {
                    "type": "string"
                },
                "deafened": {
                    "type": "boolean"
                },
                "screen_sharing": {
                    "type": "boolean"
                },
                "volume": {
                    "type": "number"
                },
                "remote": {
                    "$ref": "#/definitions/call.Metadata"
                },
                "link": {
                    "$ref": "#/definitions/call.LinkStatus"
                },
                "rtp": {
                    "type": "object",
                    "additionalProperties": {
                        "$ref": "#/definitions/call.RTPStats"
                    }
                },
                "started_at": {
                    "type": "string"
                },
                "connected_at": {
                    "type": "string"
                }
            }
        },
        "call.Event": {
            "type": "object",
            "properties": {
                "type": {
                    "type": "string"
                },
                "session_id": {
                    "type": "string"
                },
                "partner": {
                    "$ref": "#/definitions/call.Profile"
                },
                "call_type": {
                    "type": "string"
                },
                "state": {
                    "type": "string"
                },
                "reason": {
                    "type": "string"
                },
                "remote": {
                    "$ref": "#/definitions/call.Metadata"
                },
                "kind": {
                    "type": "string"
                },
                "level": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                },
                "time": {
                    "type": "string"
                }
            }
        },
        "storage.Contact": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "name": {
                    "type": "string"
                },
                "avatar_url": {
                    "type": "string"
                },
                "updated_at": {
                    "type": "string"
                }
            }
        },
        "storage.CallEntry": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "partner_id": {
                    "type": "string"
                },
                "partner_name": {
                    "type": "string"
                },
                "direction": {
                    "type": "string"
                },
                "type": {
                    "type": "string"
                },
                "outcome": {
                    "type": "string"
                },
                "reason": {
                    "type": "string"
                },
                "started_at": {
                    "type": "string"
                },
                "connected_at": {
                    "type": "string"
                },
                "ended_at": {
                    "type": "string"
                }
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "goopcall control API",
	Description:      "Local control surface for the call manager: call actions, contacts, history and a WebSocket event stream.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
