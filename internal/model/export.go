package model

import "time"

// ResultsExport is the top-level JSON structure for exam result export.
type ResultsExport struct {
	ExamID        string         `json:"examId"`
	Title         string         `json:"title"`
	ExportedAt    time.Time      `json:"exportedAt"`
	PassThreshold int            `json:"passThreshold"`
	NumQuestions  int            `json:"numQuestions"`
	Stats         ExamStats      `json:"stats"`
	Results       []ResultRecord `json:"results"`
}
