// Package extract parses the portal's fixed page templates into records.
//
// Parsing operates on rendered HTML handed over by the session engine, so
// every function here is pure and testable against static fixtures.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/unishark/portalwatch/internal/watch"
)

func text(sel *goquery.Selection) string {
	return strings.TrimSpace(sel.First().Text())
}

func textOr(sel *goquery.Selection, fallback string) string {
	if s := text(sel); s != "" {
		return s
	}
	return fallback
}

// stripClosedAt removes the "Closed at:" label the portal prefixes onto
// deadline strings.
func stripClosedAt(raw string) string {
	if i := strings.Index(raw, "Closed at:"); i >= 0 {
		return strings.TrimSpace(raw[i+len("Closed at:"):])
	}
	return raw
}

// Quizzes parses the quizzes page. Each course section holds quiz articles;
// a grade of "--" or an empty grade cell means the quiz is not graded yet.
func Quizzes(html string) ([]watch.Quiz, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse quizzes page: %w", err)
	}

	var quizzes []watch.Quiz
	doc.Find("section.course-item").Each(func(_ int, course *goquery.Selection) {
		courseName := textOr(course.Find("strong.course-name"), "Unknown Course")
		course.Find("article.quiz-item").Each(func(_ int, item *goquery.Selection) {
			grade := text(item.Find(".graded-status"))
			q := watch.Quiz{
				Course:   courseName,
				Name:     textOr(item.Find("a.quiz-name"), "Unnamed Quiz"),
				ClosedAt: stripClosedAt(text(item.Find(".quiz-status"))),
				Grade:    grade,
				Graded:   grade != "" && grade != "--",
			}
			if !q.Graded {
				q.Grade = "Not Graded"
			}
			quizzes = append(quizzes, q)
		})
	})
	return quizzes, nil
}

// Assignments parses the assignments page.
func Assignments(html string) ([]watch.Assignment, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse assignments page: %w", err)
	}

	var assignments []watch.Assignment
	doc.Find("section.course-item").Each(func(_ int, course *goquery.Selection) {
		courseName := textOr(course.Find("strong.course-name"), "Unknown Course")
		course.Find("article.assignment-item").Each(func(_ int, item *goquery.Selection) {
			assignments = append(assignments, watch.Assignment{
				Course:       courseName,
				Name:         textOr(item.Find(".assign-name"), "Unnamed Assignment"),
				SubmitStatus: textOr(item.Find(".submit-status"), "Status Unknown"),
				ClosedAt:     stripClosedAt(text(item.Find(".assign-status"))),
				GradeStatus:  textOr(item.Find(".graded-status"), "Not Graded Yet"),
			})
		})
	})
	return assignments, nil
}

// Absences parses the attendance page. A table row records an absence when
// its fourth cell carries the "Absence" label or the danger icon.
func Absences(html string) ([]watch.Absence, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse absences page: %w", err)
	}

	var absences []watch.Absence
	doc.Find("div.panel-group.course-grp").Each(func(_ int, course *goquery.Selection) {
		courseName := textOr(course.Find("a.accordion-toggle span"), "Unknown Course")
		course.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() < 4 {
				return
			}
			status := cells.Eq(3)
			statusText := text(status)
			if !strings.Contains(statusText, "Absence") && status.Find(".fa-times.text-danger").Length() == 0 {
				return
			}
			absences = append(absences, watch.Absence{
				Course: courseName,
				Kind:   text(cells.Eq(1)),
				Date:   text(cells.Eq(2)),
				Status: statusText,
			})
		})
	})
	return absences, nil
}

// Registration holds the course registration page contents.
type Registration struct {
	EndDate string
	Courses []watch.CourseOffering
}

// CourseRegistration parses the registration page. Articles without a
// course name are skipped.
func CourseRegistration(html string) (Registration, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Registration{}, fmt.Errorf("parse registration page: %w", err)
	}

	reg := Registration{EndDate: text(doc.Find("#lbl-reg-end-date"))}
	doc.Find("article.course-item").Each(func(_ int, item *goquery.Selection) {
		name := text(item.Find("div.course-name"))
		if name == "" {
			return
		}
		reg.Courses = append(reg.Courses, watch.CourseOffering{
			Name:  name,
			Hours: text(item.Find("span.course-hours")),
			Fees:  text(item.Find("span.course-fees")),
			Group: text(item.Find("div.course-group")),
		})
	})
	return reg, nil
}
