// Package display turns exchange outcomes into localized status text.
package display

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Key names a catalog message.
type Key string

// Message keys
const (
	KeyTitle              Key = "title"
	KeyReady              Key = "ready"
	KeyTagDetected        Key = "tagDetected"
	KeyBlockReadError     Key = "blockReadError"
	KeyCommunicationError Key = "communicationError"
	KeyTechNotSupported   Key = "techNotSupported"
	KeyInternalError      Key = "internalError"
	KeyReaderMissing      Key = "readerMissing"
	KeyReaderDisabled     Key = "readerDisabled"
	KeyLanguage           Key = "language"
	KeyLanguageName       Key = "languageName"
	KeyQuit               Key = "quit"
)

// NoValue is shown when there is no decoded value.
const NoValue = "---"

// Supported lists the catalog languages. The first entry is the fallback.
var Supported = []language.Tag{
	language.Italian,
	language.English,
	language.German,
	language.Polish,
}

var matcher = language.NewMatcher(Supported)

var messages = map[language.Tag]map[Key]string{
	language.Italian: {
		KeyTitle:              "Lettore RFID",
		KeyReady:              "Avvicina un tag RFID/NFC",
		KeyTagDetected:        "Tag rilevato",
		KeyBlockReadError:     "Errore di lettura del blocco",
		KeyCommunicationError: "Errore di comunicazione con il tag",
		KeyTechNotSupported:   "Tecnologia non supportata",
		KeyInternalError:      "Errore interno",
		KeyReaderMissing:      "NFC non supportato su questo dispositivo",
		KeyReaderDisabled:     "Abilita l'NFC",
		KeyLanguage:           "Lingua",
		KeyLanguageName:       "Italiano",
		KeyQuit:               "Esci",
	},
	language.English: {
		KeyTitle:              "RFID Reader",
		KeyReady:              "Approach an RFID tag",
		KeyTagDetected:        "Tag detected",
		KeyBlockReadError:     "Block read error",
		KeyCommunicationError: "Communication error with the tag",
		KeyTechNotSupported:   "Technology not supported",
		KeyInternalError:      "Internal error",
		KeyReaderMissing:      "NFC is not supported on this device",
		KeyReaderDisabled:     "Please enable NFC",
		KeyLanguage:           "Language",
		KeyLanguageName:       "English",
		KeyQuit:               "Quit",
	},
	language.German: {
		KeyTitle:              "RFID-Leser",
		KeyReady:              "Halten Sie einen RFID-Tag an das Gerät",
		KeyTagDetected:        "Tag erkannt",
		KeyBlockReadError:     "Fehler beim Lesen des Blocks",
		KeyCommunicationError: "Kommunikationsfehler mit dem Tag",
		KeyTechNotSupported:   "Technologie nicht unterstützt",
		KeyInternalError:      "Interner Fehler",
		KeyReaderMissing:      "NFC wird auf diesem Gerät nicht unterstützt",
		KeyReaderDisabled:     "Bitte NFC aktivieren",
		KeyLanguage:           "Sprache",
		KeyLanguageName:       "Deutsch",
		KeyQuit:               "Beenden",
	},
	language.Polish: {
		KeyTitle:              "Czytnik RFID",
		KeyReady:              "Zbliż tag RFID",
		KeyTagDetected:        "Wykryto tag",
		KeyBlockReadError:     "Błąd odczytu bloku",
		KeyCommunicationError: "Błąd komunikacji z tagiem",
		KeyTechNotSupported:   "Technologia nieobsługiwana",
		KeyInternalError:      "Błąd wewnętrzny",
		KeyReaderMissing:      "NFC nie jest obsługiwane na tym urządzeniu",
		KeyReaderDisabled:     "Włącz NFC",
		KeyLanguage:           "Język",
		KeyLanguageName:       "Polski",
		KeyQuit:               "Zakończ",
	},
}

var cat = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(Supported[0]))
	for tag, entries := range messages {
		for key, text := range entries {
			if err := b.SetString(tag, string(key), text); err != nil {
				panic(err)
			}
		}
	}
	return b
}

// Match returns the supported language closest to locale, Italian when nothing matches.
func Match(locale string) language.Tag {
	tag, err := language.Parse(locale)
	if err != nil {
		return Supported[0]
	}
	_, index, confidence := matcher.Match(tag)
	if confidence == language.No {
		return Supported[0]
	}
	return Supported[index]
}

func newPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(cat))
}

// Translate renders key in tag without touching any presenter state.
func Translate(tag language.Tag, key Key) string {
	return newPrinter(tag).Sprintf(string(key))
}
