// Package gamification turns completed work into points and levels.
package gamification

// PointsPerLevel is the number of points between two consecutive levels.
const PointsPerLevel = 100

// PointsPerImportance is awarded for every importance unit of a completed task.
const PointsPerImportance = 10

// Level returns the level reached with the given number of points.
// Level 1 covers 0-99 points, level 2 covers 100-199 and so on.
func Level(points int) int {
	if points < 0 {
		return 1
	}
	return points/PointsPerLevel + 1
}

// PointsFor returns the award for completing a task of the given importance.
func PointsFor(importance int) int {
	return PointsPerImportance * importance
}

// NextLevelAt returns the point total at which the level after the current one starts.
func NextLevelAt(points int) int {
	return Level(points) * PointsPerLevel
}
