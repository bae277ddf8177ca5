package memory

func cloneRecord(rec Record) Record {
	clone := rec
	if rec.Metadata != nil {
		clone.Metadata = make(map[string]string, len(rec.Metadata))
		for key, value := range rec.Metadata {
			clone.Metadata[key] = value
		}
	}
	return clone
}
