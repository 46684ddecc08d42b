// Package alerts turns flow failure kinds into localized messages for the
// client to display.
package alerts

import (
	"log/slog"

	"go-identity-flow/flow"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	ActionDismiss      = "dismiss"
	ActionOpenSettings = "open_settings"
)

type Action struct {
	ID    string
	Label string
}

type Alert struct {
	Title   string
	Message string
	// Neutral alerts are informational and not shown as an error.
	Neutral bool
	Actions []Action
}

var supported = []language.Tag{language.English, language.Dutch}

var matcher = language.NewMatcher(supported)

var messages = map[language.Tag]map[string]string{
	language.English: {
		"action.dismiss":       "OK",
		"action.open_settings": "Open settings",

		"title.permission_denied":          "Camera access needed",
		"message.permission_denied":        "Allow camera access in your device settings to continue.",
		"title.capture_quality_failure":    "Photo not clear enough",
		"message.capture_quality_failure":  "Make sure your face is well lit and look straight into the camera.",
		"title.document_not_recognized":    "Document not recognized",
		"message.document_not_recognized":  "Hold your document flat and make sure all text is readable.",
		"title.face_not_found_in_document": "No photo found on document",
		"message.face_not_found_in_document": "We could not find the portrait on your document. " +
			"Scan the page with your photo.",
		"title.cross_validation_mismatch":   "Faces do not match",
		"message.cross_validation_mismatch": "Your selfie does not match the photo on your document.",
		"title.transport_failure":           "Connection problem",
		"message.transport_failure":         "We could not reach the verification service. Check your connection and try again.",
		"title.identity_already_exists":     "Already registered",
		"message.identity_already_exists":   "This identity has been registered before.",
		"title.no_match_found":              "Not recognized",
		"message.no_match_found":            "We could not find a matching identity.",
		"title.unknown":                     "Something went wrong",
		"message.unknown":                   "An unexpected error occurred. Please try again.",
	},
	language.Dutch: {
		"action.dismiss":       "OK",
		"action.open_settings": "Instellingen openen",

		"title.permission_denied":          "Cameratoegang nodig",
		"message.permission_denied":        "Geef in de instellingen van je apparaat toegang tot de camera om verder te gaan.",
		"title.capture_quality_failure":    "Foto niet scherp genoeg",
		"message.capture_quality_failure":  "Zorg dat je gezicht goed verlicht is en kijk recht in de camera.",
		"title.document_not_recognized":    "Document niet herkend",
		"message.document_not_recognized":  "Houd je document plat en zorg dat alle tekst leesbaar is.",
		"title.face_not_found_in_document": "Geen pasfoto gevonden",
		"message.face_not_found_in_document": "We konden de pasfoto op je document niet vinden. " +
			"Scan de pagina met je foto.",
		"title.cross_validation_mismatch":   "Gezichten komen niet overeen",
		"message.cross_validation_mismatch": "Je selfie komt niet overeen met de foto op je document.",
		"title.transport_failure":           "Verbindingsprobleem",
		"message.transport_failure":         "De verificatiedienst is niet bereikbaar. Controleer je verbinding en probeer het opnieuw.",
		"title.identity_already_exists":     "Al geregistreerd",
		"message.identity_already_exists":   "Deze identiteit is al eerder geregistreerd.",
		"title.no_match_found":              "Niet herkend",
		"message.no_match_found":            "We konden geen overeenkomende identiteit vinden.",
		"title.unknown":                     "Er ging iets mis",
		"message.unknown":                   "Er is een onverwachte fout opgetreden. Probeer het opnieuw.",
	},
}

var cat = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, entries := range messages {
		for key, msg := range entries {
			if err := b.SetString(tag, key, msg); err != nil {
				slog.Error("Failed to add alert message", "language", tag, "key", key, "error", err)
			}
		}
	}
	return b
}

// Match picks the best supported language for an Accept-Language header.
// English is used when nothing matches.
func Match(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return language.English
	}
	return supported[index]
}

// For returns the alert for a failure kind. UserCanceled gives a neutral
// alert without text, which clients do not display.
func For(kind flow.Kind, lang language.Tag) Alert {
	p := message.NewPrinter(lang, message.Catalog(cat))

	if kind == flow.UserCanceled {
		return Alert{Neutral: true}
	}

	name := kind.String()
	if _, ok := messages[language.English]["title."+name]; !ok {
		name = flow.Unknown.String()
	}

	alert := Alert{
		Title:   p.Sprintf("title." + name),
		Message: p.Sprintf("message." + name),
		Actions: []Action{{ID: ActionDismiss, Label: p.Sprintf("action.dismiss")}},
	}
	if kind == flow.PermissionDenied {
		alert.Actions = append([]Action{{ID: ActionOpenSettings, Label: p.Sprintf("action.open_settings")}}, alert.Actions...)
	}
	return alert
}
