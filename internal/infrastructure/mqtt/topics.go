package mqtt

// TopicRoot is the first level of every Gray Logic topic.
const TopicRoot = "graylogic"

// PresenceTopic is the retained online/offline topic of one client,
// e.g. graylogic/system/status/graylogic-nad.
func PresenceTopic(clientID string) string {
	return TopicRoot + "/system/status/" + clientID
}

// AllPresence matches the presence topic of every client.
func AllPresence() string {
	return TopicRoot + "/system/status/+"
}
